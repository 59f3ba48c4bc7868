// Package hvsock adapts the teacher's Hyper-V socket (HVSocket) layer for
// PowerShell Direct into a codec.Transport: connect to a guest VM's PSRP
// broker and server services (ConnectAndAuthenticate), then frame PSRP
// fragments over the resulting net.Conn the same way transport/process
// frames them over a child process's stdio pipes (a 4-byte big-endian
// length prefix per fragment) — PowerShell Direct carries the same PSRP
// wire messages as WinRM, just over a Hyper-V socket instead of HTTP.
//
// Only available on Windows, since Hyper-V sockets are a Windows-host
// kernel facility; non-Windows builds get a Transport whose methods all
// return ErrNotSupported, matching the teacher's conn_others.go stub split.
package hvsock

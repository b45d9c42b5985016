// Package mem provides an in-process transport pair built on net.Pipe. It lets
// a stream service talk to a server in the same process, which the tests use
// to run the full remote protocol without sockets.
//
// DropFrame and DuplicateFrame inject faults on data frames sent from one end,
// to exercise sequence gap and duplicate handling.
package mem

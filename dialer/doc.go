// Package dialer connects through the proxies libproxy returns. It tries each
// proxy in the order libproxy listed them and returns the first connection
// that succeeds. Import this package when you want libproxy's answer applied
// to outgoing connections; use the top-level libproxy package directly if you
// only need the list.
//
// Supported entries are direct://, http:// (HTTP CONNECT), and socks5://,
// socks5h:// and socks:// (dialed as SOCKS5). Other schemes are skipped.
package dialer

//go:build linux

// Package usbid resolves USB vendor and product identifiers against the
// system usb.ids database.
package usbid

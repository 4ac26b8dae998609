// Package timestamp synthesizes absolute per-frame timestamps for a cine loop.
//
// A recording reports one anchor time (DICOM DT, YYYYMMDDHHMMSS.ffffff) and a
// frame time vector of millisecond offsets. Each offset is relative to the
// previous frame, so the frame times form a chain that starts at the anchor.
// Frame times are encoded as 17-digit canonical stamps: YYYYMMDDHHMMSS
// followed by three millisecond digits.
package timestamp

// Package ocr recognises text in scanned pages and images.
//
// Providers wrap an OCR engine for one or more input kinds and are
// selected through a registry. The Service guesses the script from
// nearby text, runs one pass per candidate language set, keeps the most
// confident text for every region, and serialises work through a Queue
// so that at most a configured number of recognitions run at once.
package ocr

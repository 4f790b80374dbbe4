// Package file provides the file-based configuration store.
//
// Settings live in ~/.sercha/config.toml. Missing keys fall back to
// domain.DefaultSettings, a .env file may supply SERCHA_* variables, and
// those variables override the file at load time without being written
// back.
package file

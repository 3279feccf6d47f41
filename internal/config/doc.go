// Package config loads, defaults, normalizes, and validates the TOML
// configuration shared by every threadmap process.
//
// All pipeline workers point at the same data_dir so they coordinate
// through one database file. Paths support ~ expansion; the Mapillary
// token may come from the environment or a .env file instead of TOML.
package config

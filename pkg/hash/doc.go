// Package hash derives short, stable identifiers from arbitrary strings.
//
// chest names its helper containers after the backup target they serve, so a second run against the same target
// finds the leftover helper of a killed run. Target names may contain characters a container name cannot,
// hence the hash:
//
//	hash.Name("chest", "my app") // "chest-<8 hex chars>"
//
// The hash is the first 8 characters of MD5(key).
package hash

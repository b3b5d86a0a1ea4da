package track

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// File is the TOML layout of a track definition.
type File struct {
	Name    string   `toml:"name"`
	Country string   `toml:"country"`
	Center  Point    `toml:"center"`
	Sectors []Sector `toml:"sector"`
}

// LoadFile decodes a TOML track file. An empty path returns the built-in
// Silesia Ring.
func LoadFile(path string) (*Track, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("track file: %v", err)}
	}
	var f File
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("decode %s: %v", path, err)}
	}
	return New(f.Name, f.Country, f.Center, f.Sectors)
}

// Parse decodes a TOML track definition held in memory.
func Parse(data string) (*Track, error) {
	var f File
	if _, err := toml.Decode(data, &f); err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("decode: %v", err)}
	}
	return New(f.Name, f.Country, f.Center, f.Sectors)
}

// Default returns the built-in Silesia Ring karting layout.
func Default() *Track {
	t, err := New("Silesia Ring", "Poland", Point{Lat: 50.529211, Lon: 18.093939}, []Sector{
		{ID: 0, TargetSpeed: 68, Length: 40, OptimalTime: 2.1, Start: Point{Lat: 50.529669, Lon: 18.093939}},
		{ID: 1, TargetSpeed: 57, Length: 40, OptimalTime: 2.5, Start: Point{Lat: 50.529535, Lon: 18.094449}},
		{ID: 2, TargetSpeed: 43, Length: 40, OptimalTime: 3.3, Start: Point{Lat: 50.529211, Lon: 18.094660}},
		{ID: 3, TargetSpeed: 30, Length: 40, OptimalTime: 4.8, Start: Point{Lat: 50.528887, Lon: 18.094449}},
		{ID: 4, TargetSpeed: 46, Length: 40, OptimalTime: 3.1, Start: Point{Lat: 50.528753, Lon: 18.093939}},
		{ID: 5, TargetSpeed: 59, Length: 40, OptimalTime: 2.4, Start: Point{Lat: 50.528887, Lon: 18.093429}},
		{ID: 6, TargetSpeed: 62, Length: 40, OptimalTime: 2.3, Start: Point{Lat: 50.529211, Lon: 18.093218}},
		{ID: 7, TargetSpeed: 65, Length: 40, OptimalTime: 2.2, Start: Point{Lat: 50.529535, Lon: 18.093429}},
	})
	if err != nil {
		panic(err)
	}
	return t
}

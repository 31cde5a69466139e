// airspace-check validates an airspace configuration file and prints the
// resulting geometry. Useful before pointing the engine at a new file.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/atcsim/atc-engine/pkg/airspace"
	"github.com/atcsim/atc-engine/pkg/coordinates"
)

func main() {
	path := flag.String("file", "", "Airspace configuration file (empty = built-in default)")
	flag.Parse()

	var (
		air *airspace.Airspace
		err error
	)
	if *path == "" {
		air = airspace.Default()
		fmt.Println("Using built-in default airspace")
	} else {
		air, err = airspace.Load(*path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid airspace: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Loaded %s\n", *path)
	}

	fmt.Printf("\nAirport: %s at %.4f, %.4f (elevation %.0f ft)\n",
		air.Airport.ICAO, air.Airport.Latitude, air.Airport.Longitude, air.Airport.ElevationFt)

	fmt.Println("\nSectors (innermost first):")
	for _, s := range air.Sectors {
		fmt.Printf("  %-10s %5.1f - %5.1f NM   %6.0f - %6.0f ft   hyst %.1f NM   stable %d ticks\n",
			s.Name, s.RadiusInnerNM, s.RadiusOuterNM, s.AltMinFt, s.AltMaxFt,
			s.HysteresisNM, s.StableTicksRequired)
	}

	fmt.Println("\nEntry fixes:")
	for _, fix := range air.EntryFixes {
		d := air.DistanceToAirport(coordinates.Geographic{Latitude: fix.Latitude, Longitude: fix.Longitude})
		fmt.Printf("  %-10s bearing %3.0f   %.4f, %.4f   %.1f NM out\n",
			fix.Name, fix.BearingDeg, fix.Latitude, fix.Longitude, d)
	}

	fmt.Printf("\nSpawn zone: %.0f-%.0f NM, %.0f-%.0f ft, %.0f-%.0f kts\n",
		air.Spawn.RadiusMinNM, air.Spawn.RadiusMaxNM,
		air.Spawn.AltMinFt, air.Spawn.AltMaxFt,
		air.Spawn.SpeedMinKts, air.Spawn.SpeedMaxKts)

	fmt.Println("\nSample classifications:")
	samples := []struct {
		distanceNM float64
		altitudeFt float64
	}{
		{1, 1500}, {5, 8000}, {20, 25000}, {45, 31000}, {20, 12000}, {70, 30000},
	}
	for _, s := range samples {
		if sec, ok := air.Classify(s.distanceNM, s.altitudeFt); ok {
			fmt.Printf("  %5.1f NM / %6.0f ft -> %s\n", s.distanceNM, s.altitudeFt, sec.Name)
		} else {
			fmt.Printf("  %5.1f NM / %6.0f ft -> outside managed airspace\n", s.distanceNM, s.altitudeFt)
		}
	}

	fmt.Println("\nOK")
}

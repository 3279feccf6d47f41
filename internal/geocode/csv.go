package geocode

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// CityEntry is one row of an import file: the city to geocode and its
// population, which drives claim priority.
type CityEntry struct {
	Name       string
	Country    string
	Population int64
}

// LoadCityCSV reads a city list in "name,country,population" form. A header
// row is skipped when its population column is not numeric. Blank lines and
// lines starting with '#' are ignored.
func LoadCityCSV(path string) ([]CityEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open city list: %w", err)
	}
	defer f.Close()
	return ParseCityCSV(f)
}

// ParseCityCSV parses city rows from r. See LoadCityCSV for the format.
func ParseCityCSV(r io.Reader) ([]CityEntry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.Comment = '#'
	reader.TrimLeadingSpace = true

	var entries []CityEntry
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read city list: %w", err)
		}
		line++
		if len(record) < 3 {
			return nil, fmt.Errorf("city list line %d: want 3 fields (name,country,population), got %d", line, len(record))
		}
		name := strings.TrimSpace(record[0])
		country := strings.TrimSpace(record[1])
		populationRaw := strings.TrimSpace(record[2])
		population, err := strconv.ParseInt(populationRaw, 10, 64)
		if err != nil {
			if line == 1 {
				continue // header row
			}
			return nil, fmt.Errorf("city list line %d: parse population %q: %w", line, populationRaw, err)
		}
		if name == "" {
			return nil, fmt.Errorf("city list line %d: empty name", line)
		}
		if population < 0 {
			return nil, fmt.Errorf("city list line %d: negative population", line)
		}
		entries = append(entries, CityEntry{Name: name, Country: country, Population: population})
	}
	return entries, nil
}

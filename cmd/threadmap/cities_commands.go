package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"threadmap/internal/geocode"
	"threadmap/internal/store"
)

func newCitiesCommand(ctx *commandContext) *cobra.Command {
	citiesCmd := &cobra.Command{
		Use:   "cities",
		Short: "Manage the city work queue",
	}

	citiesCmd.AddCommand(newCitiesAddCommand(ctx))
	citiesCmd.AddCommand(newCitiesImportCommand(ctx))
	citiesCmd.AddCommand(newCitiesListCommand(ctx))

	return citiesCmd
}

func (c *commandContext) newGeocoder() (*geocode.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return geocode.New(
		cfg.Geocoder.BaseURL,
		cfg.Geocoder.Email,
		time.Duration(cfg.Geocoder.RequestTimeout)*time.Second,
	)
}

func newCitiesAddCommand(ctx *commandContext) *cobra.Command {
	var country string
	var population int64

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Geocode a city and queue it for download",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver, err := ctx.newGeocoder()
			if err != nil {
				return err
			}
			return ctx.withStore(func(st *store.Store) error {
				city, err := addCity(cmd.Context(), st, resolver, geocode.CityEntry{
					Name:       args[0],
					Country:    country,
					Population: population,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %s (id %d, bbox %.4f,%.4f,%.4f,%.4f)\n",
					city.Name, city.ID,
					city.BBox.West, city.BBox.South, city.BBox.East, city.BBox.North)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&country, "country", "", "Country name recorded with the city")
	cmd.Flags().Int64Var(&population, "population", 0, "Population used for claim priority (largest first)")
	return cmd
}

func newCitiesImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <csv-file>",
		Short: "Geocode and queue cities from a name,country,population CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := geocode.LoadCityCSV(args[0])
			if err != nil {
				return err
			}
			resolver, err := ctx.newGeocoder()
			if err != nil {
				return err
			}
			return ctx.withStore(func(st *store.Store) error {
				out := cmd.OutOrStdout()
				queued := 0
				for _, entry := range entries {
					city, err := addCity(cmd.Context(), st, resolver, entry)
					if err != nil {
						if errors.Is(err, geocode.ErrNotFound) {
							fmt.Fprintf(out, "Skipped %s: no geocoder match\n", entry.Name)
							continue
						}
						return fmt.Errorf("import %s: %w", entry.Name, err)
					}
					queued++
					fmt.Fprintf(out, "Queued %s (id %d)\n", city.Name, city.ID)
				}
				fmt.Fprintf(out, "Imported %d of %d cities\n", queued, len(entries))
				return nil
			})
		},
	}
}

func addCity(ctx context.Context, st *store.Store, resolver geocode.Resolver, entry geocode.CityEntry) (*store.City, error) {
	place, err := resolver.Lookup(ctx, entry.Name)
	if err != nil {
		return nil, err
	}
	return st.InsertCity(ctx, entry.Name, entry.Country, entry.Population, place.BBox)
}

func newCitiesListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued cities with their stage statuses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				cities, err := st.ListCities(cmd.Context())
				if err != nil {
					return err
				}
				if len(cities) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No cities queued")
					return nil
				}

				printer := message.NewPrinter(language.English)
				rows := make([][]string, 0, len(cities))
				for _, city := range cities {
					rows = append(rows, []string{
						fmt.Sprintf("%d", city.ID),
						city.Name,
						city.Country,
						printer.Sprintf("%d", city.Population),
						string(city.DownloadStatus),
						string(city.AnalysisStatus),
						city.ErrorMessage,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Name", "Country", "Population", "Download", "Analysis", "Error"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
}

package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dayuer/estatedesk/internal/listing"
	"github.com/dayuer/estatedesk/internal/reply"
	"github.com/dayuer/estatedesk/internal/utils"
)

var (
	listingsType     string
	listingsRooms    int
	listingsPriceMin float64
	listingsPriceMax float64
)

var listingsCmd = &cobra.Command{
	Use:   "listings",
	Short: "Query stored listings, newest first",
	RunE:  runListings,
}

func init() {
	f := listingsCmd.Flags()
	f.StringVarP(&listingsType, "type", "t", "", "Property type (apartment, villa, rent, unknown)")
	f.IntVarP(&listingsRooms, "rooms", "r", -1, "Exact number of bedrooms")
	f.Float64Var(&listingsPriceMin, "price-min", -1, "Minimum price")
	f.Float64Var(&listingsPriceMax, "price-max", -1, "Maximum price")
	rootCmd.AddCommand(listingsCmd)
}

func listingsFilter() (listing.Filter, error) {
	t, err := listing.ParseType(listingsType)
	if err != nil {
		return listing.Filter{}, err
	}
	f := listing.Filter{PropertyType: t}
	if listingsRooms >= 0 {
		f.RoomCount = listing.Int(listingsRooms)
	}
	if listingsPriceMin >= 0 {
		f.PriceMin = listing.Float(listingsPriceMin)
	}
	if listingsPriceMax >= 0 {
		f.PriceMax = listing.Float(listingsPriceMax)
	}
	return f, nil
}

func runListings(cmd *cobra.Command, args []string) error {
	f, err := listingsFilter()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	repo, _, err := openRepository(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	found, err := repo.QueryListings(cmd.Context(), f)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No listings match.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSOURCE\tTYPE\tROOMS\tPRICE\tAREA\tTEXT")
	for _, l := range found {
		rooms, price, area := "-", "-", "-"
		if l.RoomCount != nil {
			rooms = fmt.Sprint(*l.RoomCount)
		}
		if l.Price != nil {
			price = "$" + reply.FormatPrice(*l.Price)
		}
		if l.Area != nil {
			area = *l.Area
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n", l.ID, l.SourceMessageID, l.PropertyType, rooms, price, area,
			utils.TruncateRunes(firstLine(l.RawText), 40, "..."))
	}
	return w.Flush()
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/MarkoPoloResearchLab/unitclaims/internal/config"
	"github.com/MarkoPoloResearchLab/unitclaims/pkg/claims"
	"github.com/spf13/cobra"
)

type inventoryFile struct {
	Projects []projectRecord `json:"projects"`
	Units    []unitRecord    `json:"units"`
}

type projectRecord struct {
	Code              string `json:"code"`
	Name              string `json:"name"`
	CommissionRateBps *int64 `json:"commission_rate_bps"`
}

type unitRecord struct {
	Code              string `json:"code"`
	ProjectCode       string `json:"project_code"`
	Price             int64  `json:"price"`
	CommissionRateBps *int64 `json:"commission_rate_bps"`
}

func newUnitsCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "units",
		Short: "Manage inventory units",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Import projects and units from a JSON inventory file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()
			projects, units, err := readInventory(file)
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			return withRuntime(cmd.Context(), cfg, func(app *application) error {
				if err := app.service.ImportUnits(cmd.Context(), projects, units); err != nil {
					return fmt.Errorf("import units: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d projects and %d units\n", len(projects), len(units))
				return nil
			})
		},
	})
	return cmd
}

func readInventory(reader io.Reader) ([]claims.Project, []claims.Unit, error) {
	var inventory inventoryFile
	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&inventory); err != nil {
		return nil, nil, err
	}

	projects := make([]claims.Project, 0, len(inventory.Projects))
	for _, record := range inventory.Projects {
		rate, err := basisPoints(record.CommissionRateBps)
		if err != nil {
			return nil, nil, fmt.Errorf("project %s: %w", record.Code, err)
		}
		projects = append(projects, claims.Project{
			Code:              record.Code,
			Name:              record.Name,
			CommissionRateBps: rate,
		})
	}

	units := make([]claims.Unit, 0, len(inventory.Units))
	for _, record := range inventory.Units {
		code, err := claims.NewUnitCode(record.Code)
		if err != nil {
			return nil, nil, err
		}
		rate, err := basisPoints(record.CommissionRateBps)
		if err != nil {
			return nil, nil, fmt.Errorf("unit %s: %w", record.Code, err)
		}
		units = append(units, claims.Unit{
			Code:              code,
			ProjectCode:       record.ProjectCode,
			Price:             claims.Money(record.Price),
			CommissionRateBps: rate,
		})
	}
	return projects, units, nil
}

func basisPoints(raw *int64) (*claims.BasisPoints, error) {
	if raw == nil {
		return nil, nil
	}
	if *raw < 0 || *raw > 10000 {
		return nil, fmt.Errorf("%w: commission rate %d outside 0..10000 basis points", claims.ErrValidation, *raw)
	}
	rate := claims.BasisPoints(*raw)
	return &rate, nil
}

// Package queryset loads the search phrases consumed by intake runs from
// YAML or XLSX files.
package queryset

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/intake-cli/internal/model"
)

// Load reads query sets from path, dispatching on the file extension.
func Load(path string) ([]model.QuerySet, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(path)
	case ".xlsx":
		return LoadXLSX(path)
	default:
		return nil, eris.Errorf("queryset: unsupported file type %s", filepath.Ext(path))
	}
}

type yamlFile struct {
	Regions []model.QuerySet `yaml:"regions"`
}

// LoadYAML reads query sets from a YAML file shaped as:
//
//	regions:
//	  - region: chicago-north
//	    queries:
//	      - dentist near Lincoln Park
func LoadYAML(path string) ([]model.QuerySet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "queryset: read yaml")
	}

	var file yamlFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrap(err, "queryset: parse yaml")
	}
	return validate(file.Regions)
}

// LoadXLSX reads query sets from the first sheet of an XLSX file with
// Region and Query columns. The header row is skipped; rows group by
// region in first-seen order.
func LoadXLSX(path string) ([]model.QuerySet, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "queryset: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("queryset: xlsx has no sheets")
	}

	byRegion := make(map[string]*model.QuerySet)
	var order []string

	for i, row := range f.Sheets[0].Rows {
		if i == 0 {
			continue // header
		}
		if len(row.Cells) < 2 {
			continue
		}
		region := strings.TrimSpace(row.Cells[0].Value)
		query := strings.TrimSpace(row.Cells[1].Value)
		if region == "" || query == "" {
			continue
		}

		qs, ok := byRegion[region]
		if !ok {
			qs = &model.QuerySet{Region: region}
			byRegion[region] = qs
			order = append(order, region)
		}
		qs.Queries = append(qs.Queries, query)
	}

	sets := make([]model.QuerySet, 0, len(order))
	for _, region := range order {
		sets = append(sets, *byRegion[region])
	}
	return validate(sets)
}

func validate(sets []model.QuerySet) ([]model.QuerySet, error) {
	if len(sets) == 0 {
		return nil, eris.New("queryset: no query sets found")
	}
	for _, qs := range sets {
		if qs.Region == "" {
			return nil, eris.New("queryset: query set missing region")
		}
		if len(qs.Queries) == 0 {
			return nil, eris.Errorf("queryset: region %s has no queries", qs.Region)
		}
	}
	return sets, nil
}

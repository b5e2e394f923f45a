package accounting

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// System account codes. Persisted entries reference these verbatim.
const (
	CodeCash             = "1000"
	CodeReceivable       = "1100"
	CodeInventory        = "1200"
	CodePayable          = "2000"
	CodeEquity           = "3000"
	CodeSalesRevenue     = "4000"
	CodeOtherIncome      = "4100"
	CodeCOGS             = "5000"
	CodeOperatingExpense = "6100"
)

//go:embed chart.yaml
var defaultChartYAML []byte

// ChartAccount is one system account template.
type ChartAccount struct {
	Code string      `yaml:"code" json:"code"`
	Name string      `yaml:"name" json:"name"`
	Type AccountType `yaml:"type" json:"type"`
}

// Chart is a read-only, versioned chart of system accounts.
type Chart struct {
	version  int
	accounts []ChartAccount
	byCode   map[string]ChartAccount
}

type chartFile struct {
	Version  int            `yaml:"version"`
	Accounts []ChartAccount `yaml:"accounts"`
}

var (
	defaultChartOnce sync.Once
	defaultChart     *Chart
)

// DefaultChart returns the compiled-in chart of accounts.
func DefaultChart() *Chart {
	defaultChartOnce.Do(func() {
		chart, err := ParseChart(defaultChartYAML)
		if err != nil {
			panic(fmt.Sprintf("accounting: embedded chart: %v", err))
		}
		defaultChart = chart
	})
	return defaultChart
}

// ParseChart decodes and validates a YAML chart definition.
func ParseChart(data []byte) (*Chart, error) {
	var file chartFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("accounting: parse chart: %w", err)
	}
	if file.Version <= 0 {
		return nil, errors.New("accounting: chart version required")
	}
	if len(file.Accounts) == 0 {
		return nil, errors.New("accounting: chart has no accounts")
	}
	chart := &Chart{version: file.Version, byCode: make(map[string]ChartAccount, len(file.Accounts))}
	names := make(map[string]struct{}, len(file.Accounts))
	for _, acc := range file.Accounts {
		if acc.Code == "" || acc.Name == "" {
			return nil, errors.New("accounting: chart account requires code and name")
		}
		if !acc.Type.Valid() {
			return nil, fmt.Errorf("accounting: chart account %s has invalid type %q", acc.Code, acc.Type)
		}
		if _, dup := chart.byCode[acc.Code]; dup {
			return nil, fmt.Errorf("accounting: duplicate chart code %s", acc.Code)
		}
		if _, dup := names[acc.Name]; dup {
			return nil, fmt.Errorf("accounting: duplicate chart name %s", acc.Name)
		}
		names[acc.Name] = struct{}{}
		chart.byCode[acc.Code] = acc
		chart.accounts = append(chart.accounts, acc)
	}
	sort.Slice(chart.accounts, func(i, j int) bool { return chart.accounts[i].Code < chart.accounts[j].Code })
	return chart, nil
}

// Version identifies the chart revision.
func (c *Chart) Version() int {
	return c.version
}

// Accounts returns a copy of the account templates ordered by code.
func (c *Chart) Accounts() []ChartAccount {
	out := make([]ChartAccount, len(c.accounts))
	copy(out, c.accounts)
	return out
}

// Lookup returns the template for code.
func (c *Chart) Lookup(code string) (ChartAccount, bool) {
	acc, ok := c.byCode[code]
	return acc, ok
}

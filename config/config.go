// Package config loads simulation scenarios from YAML so a run is
// reproducible from one document.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dfabianus/biopreprocessing/balance"
	"github.com/dfabianus/biopreprocessing/simulate"
)

// Defaults applied to fields left out of the document.
const (
	DefaultVariant = "full"
	DefaultKS      = 0.1
)

// ErrScenario is returned for documents that parse but cannot describe
// a run.
var ErrScenario = errors.New("config: invalid scenario")

// Scenario is the YAML representation of one simulation run.
type Scenario struct {
	Variant       string    `yaml:"variant"`
	Time          []float64 `yaml:"time"`
	QS            []float64 `yaml:"q_s"`
	QCO2          []float64 `yaml:"q_co2"`
	QO2           []float64 `yaml:"q_o2"`
	Volume        []float64 `yaml:"volume"`
	Initial       []float64 `yaml:"initial"`
	InductionTime float64   `yaml:"induction_time"`
	QSMaxBefore   float64   `yaml:"qs_max_before"`
	QSMaxAfter    float64   `yaml:"qs_max_after"`
	KS            float64   `yaml:"k_s"`
}

// Parse decodes a scenario document and applies defaults.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if s.Variant == "" {
		s.Variant = DefaultVariant
	}
	if s.KS == 0 {
		s.KS = DefaultKS
	}
	return &s, nil
}

// Load reads and parses a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// BalanceVariant resolves the variant name.
func (s *Scenario) BalanceVariant() (balance.Variant, error) {
	switch s.Variant {
	case "full":
		return balance.FullBalance, nil
	case "carbon":
		return balance.CarbonOnly, nil
	case "reduction":
		return balance.ReductionOnly, nil
	}
	return 0, fmt.Errorf("%w: unknown variant %q", ErrScenario, s.Variant)
}

// Inputs converts the scenario into driver inputs. Series validation
// happens when the driver interpolates them.
func (s *Scenario) Inputs() (simulate.Inputs, error) {
	if len(s.Initial) != balance.NumSpecies {
		return simulate.Inputs{}, fmt.Errorf("%w: initial state needs %d entries, got %d",
			ErrScenario, balance.NumSpecies, len(s.Initial))
	}
	in := simulate.Inputs{
		Time:          s.Time,
		QS:            s.QS,
		QCO2:          s.QCO2,
		QO2:           s.QO2,
		Volume:        s.Volume,
		InductionTime: s.InductionTime,
		QSMaxBefore:   s.QSMaxBefore,
		QSMaxAfter:    s.QSMaxAfter,
		KS:            s.KS,
	}
	copy(in.Initial[:], s.Initial)
	return in, nil
}

// Run loads, converts and executes the scenario in one call.
func Run(path string) (*simulate.Result, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	v, err := s.BalanceVariant()
	if err != nil {
		return nil, err
	}
	in, err := s.Inputs()
	if err != nil {
		return nil, err
	}
	return simulate.Run(in, v)
}

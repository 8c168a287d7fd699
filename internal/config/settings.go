package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Settings is the read-only payment policy.
type Settings struct {
	Currency   string
	Deposit    Limits
	Withdrawal WithdrawalPolicy
	Commission CommissionPolicy
	Reconcile  ReconcilePolicy
	Poller     PollerPolicy
}

type Limits struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// Allows reports whether amount is inside [Min, Max]. A zero Max means unbounded.
func (l Limits) Allows(amount decimal.Decimal) bool {
	if amount.LessThan(l.Min) {
		return false
	}
	if !l.Max.IsZero() && amount.GreaterThan(l.Max) {
		return false
	}
	return true
}

type WithdrawalPolicy struct {
	Limits
	Window       TimeWindow
	AutoDispatch bool
}

// TimeWindow restricts withdrawal requests to [StartHour, EndHour) local time.
type TimeWindow struct {
	Enabled   bool
	StartHour int
	EndHour   int
	Location  *time.Location
}

func (w TimeWindow) Allows(t time.Time) bool {
	if !w.Enabled {
		return true
	}
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	h := t.In(loc).Hour()
	if w.StartHour <= w.EndHour {
		return h >= w.StartHour && h < w.EndHour
	}
	// window wraps midnight
	return h >= w.StartHour || h < w.EndHour
}

type CommissionPolicy struct {
	MaxDepth int
	// Rates[i] is the percentage paid to the upline at level i+1.
	Rates []decimal.Decimal
}

// Rate returns the percentage for a 1-based level.
func (p CommissionPolicy) Rate(level int) decimal.Decimal {
	if level < 1 || level > len(p.Rates) {
		return decimal.Zero
	}
	return p.Rates[level-1]
}

// Depth is the number of levels actually walked.
func (p CommissionPolicy) Depth() int {
	if p.MaxDepth <= 0 || p.MaxDepth > len(p.Rates) {
		return len(p.Rates)
	}
	return p.MaxDepth
}

type ReconcilePolicy struct {
	AmountTolerance decimal.Decimal
}

type PollerPolicy struct {
	MinAge        time.Duration
	DepositExpiry time.Duration
	BatchSize     int
}

type settingsFile struct {
	Currency string `yaml:"currency"`
	Deposit  struct {
		Min string `yaml:"min"`
		Max string `yaml:"max"`
	} `yaml:"deposit"`
	Withdrawal struct {
		Min          string `yaml:"min"`
		Max          string `yaml:"max"`
		AutoDispatch bool   `yaml:"auto_dispatch"`
		Window       struct {
			Enabled   bool   `yaml:"enabled"`
			StartHour int    `yaml:"start_hour"`
			EndHour   int    `yaml:"end_hour"`
			TimeZone  string `yaml:"time_zone"`
		} `yaml:"window"`
	} `yaml:"withdrawal"`
	Commission struct {
		MaxDepth int      `yaml:"max_depth"`
		Rates    []string `yaml:"rates"`
	} `yaml:"commission"`
	Reconcile struct {
		AmountTolerance string `yaml:"amount_tolerance"`
	} `yaml:"reconcile"`
	Poller struct {
		MinAge        string `yaml:"min_age"`
		DepositExpiry string `yaml:"deposit_expiry"`
		BatchSize     int    `yaml:"batch_size"`
	} `yaml:"poller"`
}

func defaultSettingsFile() settingsFile {
	var f settingsFile
	f.Currency = "BRL"
	f.Deposit.Min = "10"
	f.Deposit.Max = "50000"
	f.Withdrawal.Min = "20"
	f.Withdrawal.Max = "10000"
	f.Withdrawal.Window.StartHour = 9
	f.Withdrawal.Window.EndHour = 18
	f.Withdrawal.Window.TimeZone = "UTC"
	f.Commission.MaxDepth = 3
	f.Commission.Rates = []string{"10", "5", "2"}
	f.Reconcile.AmountTolerance = "0.01"
	f.Poller.MinAge = "2m"
	f.Poller.DepositExpiry = "24h"
	f.Poller.BatchSize = 100
	return f
}

// DefaultSettings returns the built-in policy.
func DefaultSettings() *Settings {
	s, err := defaultSettingsFile().build()
	if err != nil {
		panic(err)
	}
	return s
}

// LoadSettings reads a YAML policy file on top of the defaults. An empty path returns the defaults.
func LoadSettings(path string) (*Settings, error) {
	if path == "" {
		return DefaultSettings(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	return ParseSettings(raw)
}

func ParseSettings(raw []byte) (*Settings, error) {
	f := defaultSettingsFile()
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	return f.build()
}

func (f settingsFile) build() (*Settings, error) {
	s := &Settings{Currency: f.Currency}
	var err error

	if s.Deposit.Min, err = parseAmount("deposit.min", f.Deposit.Min); err != nil {
		return nil, err
	}
	if s.Deposit.Max, err = parseAmount("deposit.max", f.Deposit.Max); err != nil {
		return nil, err
	}
	if s.Withdrawal.Min, err = parseAmount("withdrawal.min", f.Withdrawal.Min); err != nil {
		return nil, err
	}
	if s.Withdrawal.Max, err = parseAmount("withdrawal.max", f.Withdrawal.Max); err != nil {
		return nil, err
	}
	s.Withdrawal.AutoDispatch = f.Withdrawal.AutoDispatch

	w := f.Withdrawal.Window
	if w.StartHour < 0 || w.StartHour > 23 || w.EndHour < 0 || w.EndHour > 24 {
		return nil, errors.New("withdrawal.window hours out of range")
	}
	loc := time.UTC
	if w.TimeZone != "" {
		if loc, err = time.LoadLocation(w.TimeZone); err != nil {
			return nil, fmt.Errorf("withdrawal.window.time_zone: %w", err)
		}
	}
	s.Withdrawal.Window = TimeWindow{Enabled: w.Enabled, StartHour: w.StartHour, EndHour: w.EndHour, Location: loc}

	s.Commission.MaxDepth = f.Commission.MaxDepth
	for i, r := range f.Commission.Rates {
		rate, err := parseAmount(fmt.Sprintf("commission.rates[%d]", i), r)
		if err != nil {
			return nil, err
		}
		if rate.GreaterThan(decimal.NewFromInt(100)) {
			return nil, fmt.Errorf("commission.rates[%d]: above 100%%", i)
		}
		s.Commission.Rates = append(s.Commission.Rates, rate)
	}

	if s.Reconcile.AmountTolerance, err = parseAmount("reconcile.amount_tolerance", f.Reconcile.AmountTolerance); err != nil {
		return nil, err
	}

	if s.Poller.MinAge, err = time.ParseDuration(f.Poller.MinAge); err != nil {
		return nil, fmt.Errorf("poller.min_age: %w", err)
	}
	if s.Poller.DepositExpiry, err = time.ParseDuration(f.Poller.DepositExpiry); err != nil {
		return nil, fmt.Errorf("poller.deposit_expiry: %w", err)
	}
	s.Poller.BatchSize = f.Poller.BatchSize
	if s.Poller.BatchSize <= 0 {
		s.Poller.BatchSize = 100
	}

	return s, nil
}

func parseAmount(field, v string) (decimal.Decimal, error) {
	if v == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", field, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s: must not be negative", field)
	}
	return d, nil
}

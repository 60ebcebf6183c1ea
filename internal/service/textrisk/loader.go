package textrisk

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"voice-risk-service/internal/models"
)

// fileTables is the YAML shape of a pattern table override file:
//
//	locales:
//	  en-US:
//	    base:
//	      - pattern: 'otp|passcode'
//	        label: requests OTP
//	    high:
//	      - pattern: 'read me your code'
//	        label: explicit OTP request
type fileTables struct {
	Locales map[string]struct {
		Base []filePattern `yaml:"base"`
		High []filePattern `yaml:"high"`
	} `yaml:"locales"`
}

type filePattern struct {
	Pattern string `yaml:"pattern"`
	Label   string `yaml:"label"`
}

// LoadTables decodes a YAML override file. The result is not validated;
// merge it over DefaultTables and call Validate.
func LoadTables(r io.Reader) (*Tables, error) {
	var ft fileTables
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&ft); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("textrisk: decode yaml: %w", err)
	}

	var errs []error
	m := make(map[models.Locale]LocaleTable, len(ft.Locales))
	for name, lt := range ft.Locales {
		locale := models.Locale(name)
		if !locale.IsSupported() {
			errs = append(errs, fmt.Errorf("textrisk: unsupported locale %q", name))
			continue
		}
		base, err := compileAll(lt.Base)
		if err != nil {
			errs = append(errs, fmt.Errorf("textrisk: locale %s base: %w", name, err))
		}
		high, err := compileAll(lt.High)
		if err != nil {
			errs = append(errs, fmt.Errorf("textrisk: locale %s high: %w", name, err))
		}
		m[locale] = LocaleTable{Base: base, High: high}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return NewTables(m), nil
}

// LoadTablesFile returns the default tables, overridden by the YAML file at
// path when path is non-empty, and validated.
func LoadTablesFile(path string) (*Tables, error) {
	tables := DefaultTables()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("textrisk: open %q: %w", path, err)
		}
		defer f.Close()

		override, err := LoadTables(f)
		if err != nil {
			return nil, err
		}
		tables = tables.Merge(override)
	}
	if err := tables.Validate(); err != nil {
		return nil, fmt.Errorf("textrisk: invalid tables: %w", err)
	}
	return tables, nil
}

func compileAll(in []filePattern) ([]Pattern, error) {
	out := make([]Pattern, 0, len(in))
	for _, fp := range in {
		if fp.Label == "" {
			return nil, fmt.Errorf("pattern %q has no label", fp.Pattern)
		}
		p, err := NewPattern(fp.Pattern, fp.Label)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

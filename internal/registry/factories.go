package registry

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/ca-srg/toolbelt/internal/application"
	"github.com/ca-srg/toolbelt/internal/apps/airtable"
	"github.com/ca-srg/toolbelt/internal/apps/awss3"
	"github.com/ca-srg/toolbelt/internal/apps/exa"
	"github.com/ca-srg/toolbelt/internal/apps/falai"
	"github.com/ca-srg/toolbelt/internal/apps/filesystem"
	"github.com/ca-srg/toolbelt/internal/apps/gemini"
	"github.com/ca-srg/toolbelt/internal/apps/googledrive"
	"github.com/ca-srg/toolbelt/internal/apps/googlesheet"
	"github.com/ca-srg/toolbelt/internal/apps/heygen"
	"github.com/ca-srg/toolbelt/internal/apps/httptools"
	"github.com/ca-srg/toolbelt/internal/apps/perplexity"
	"github.com/ca-srg/toolbelt/internal/apps/postgres"
	"github.com/ca-srg/toolbelt/internal/apps/resend"
	"github.com/ca-srg/toolbelt/internal/apps/slack"
	"github.com/ca-srg/toolbelt/internal/apps/zenquotes"
)

// Factory builds an application from its integration and apps-file options.
type Factory func(integration application.Integration, opts Options) (application.Application, error)

// Options are the free-form settings of one apps-file entry.
type Options map[string]string

// String returns the option or def when unset.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok && v != "" {
		return v
	}
	return def
}

// Bool parses a boolean option.
func (o Options) Bool(key string, def bool) (bool, error) {
	v, ok := o[key]
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("option %s: %w", key, err)
	}
	return b, nil
}

// clientOptions maps the options shared by every REST application.
func (o Options) clientOptions() ([]application.ClientOption, error) {
	var opts []application.ClientOption
	if v := o.String("base_url", ""); v != "" {
		opts = append(opts, application.WithBaseURL(v))
	}
	if v := o.String("timeout", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("option timeout: %w", err)
		}
		opts = append(opts, application.WithTimeout(d))
	}
	if v := o.String("rate_limit", ""); v != "" {
		perSecond, err := strconv.ParseFloat(v, 64)
		if err != nil || perSecond <= 0 {
			return nil, fmt.Errorf("option rate_limit must be a positive number, got %q", v)
		}
		burst := 1
		if b := o.String("rate_burst", ""); b != "" {
			burst, err = strconv.Atoi(b)
			if err != nil || burst < 1 {
				return nil, fmt.Errorf("option rate_burst must be a positive integer, got %q", b)
			}
		}
		opts = append(opts, application.WithRateLimit(perSecond, burst))
	}
	return opts, nil
}

func restFactory[A application.Application](newApp func(application.Integration, ...application.ClientOption) A) Factory {
	return func(integration application.Integration, opts Options) (application.Application, error) {
		clientOpts, err := opts.clientOptions()
		if err != nil {
			return nil, err
		}
		return newApp(integration, clientOpts...), nil
	}
}

var factories = map[string]Factory{
	zenquotes.Name:  restFactory(zenquotes.New),
	httptools.Name:  restFactory(httptools.New),
	perplexity.Name: restFactory(perplexity.New),
	exa.Name:        restFactory(exa.New),
	airtable.Name:   restFactory(airtable.New),
	resend.Name:     restFactory(resend.New),
	heygen.Name:     restFactory(heygen.New),
	falai.Name:      restFactory(falai.New),

	filesystem.Name: func(integration application.Integration, _ Options) (application.Application, error) {
		return filesystem.New(integration), nil
	},
	slack.Name: func(integration application.Integration, opts Options) (application.Application, error) {
		var appOpts []slack.Option
		if v := opts.String("api_url", ""); v != "" {
			appOpts = append(appOpts, slack.WithAPIURL(v))
		}
		return slack.New(integration, appOpts...), nil
	},
	awss3.Name: func(integration application.Integration, opts Options) (application.Application, error) {
		pathStyle, err := opts.Bool("path_style", false)
		if err != nil {
			return nil, err
		}
		appOpts := []awss3.Option{awss3.WithRegion(opts.String("region", ""))}
		if v := opts.String("endpoint", ""); v != "" {
			appOpts = append(appOpts, awss3.WithEndpoint(v, pathStyle))
		}
		return awss3.New(integration, appOpts...), nil
	},
	postgres.Name: func(integration application.Integration, opts Options) (application.Application, error) {
		readOnly, err := opts.Bool("read_only", true)
		if err != nil {
			return nil, err
		}
		return postgres.New(integration, postgres.WithReadOnly(readOnly)), nil
	},
	googlesheet.Name: func(integration application.Integration, opts Options) (application.Application, error) {
		var appOpts []googlesheet.Option
		if v := opts.String("endpoint", ""); v != "" {
			appOpts = append(appOpts, googlesheet.WithEndpoint(v))
		}
		return googlesheet.New(integration, appOpts...), nil
	},
	googledrive.Name: func(integration application.Integration, opts Options) (application.Application, error) {
		var appOpts []googledrive.Option
		if v := opts.String("endpoint", ""); v != "" {
			appOpts = append(appOpts, googledrive.WithEndpoint(v))
		}
		return googledrive.New(integration, appOpts...), nil
	},
	gemini.Name: func(integration application.Integration, opts Options) (application.Application, error) {
		var appOpts []gemini.Option
		if v := opts.String("base_url", ""); v != "" {
			appOpts = append(appOpts, gemini.WithBaseURL(v))
		}
		return gemini.New(integration, appOpts...), nil
	},
}

// aliases accept the vendor names users tend to type.
var aliases = map[string]string{
	"filesystem":    filesystem.Name,
	"httptools":     httptools.Name,
	"http":          httptools.Name,
	"s3":            awss3.Name,
	"awss3":         awss3.Name,
	"postgresql":    postgres.Name,
	"gemini":        gemini.Name,
	"googlesheet":   googlesheet.Name,
	"google_sheets": googlesheet.Name,
	"googledrive":   googledrive.Name,
	"fal":           falai.Name,
	"fal_ai":        falai.Name,
}

// Lookup resolves a slug or alias to its canonical slug and factory.
func Lookup(slug string) (string, Factory, bool) {
	name := NormalizeSlug(slug)
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}
	f, ok := factories[name]
	return name, f, ok
}

// Available lists every known application slug in order.
func Available() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

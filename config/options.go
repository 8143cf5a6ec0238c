// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

// DefaultEnvFile is loaded, when it exists, before the environment is read.
const DefaultEnvFile = ".env.local"

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// loadOptions is the set of available options for Load
type loadOptions struct {
	withEnvFiles []string
}

func loadDefaults() loadOptions {
	return loadOptions{
		withEnvFiles: []string{DefaultEnvFile},
	}
}

func getLoadOpts(opt ...Option) loadOptions {
	opts := loadDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithEnvFiles provides the dotenv files to load before the environment is
// read. Files that don't exist are skipped; variables already set in the
// environment take precedence over the files. No files are loaded when called
// without any.
func WithEnvFiles(files ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*loadOptions); ok {
			o.withEnvFiles = files
		}
	}
}

// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package config loads the connection settings and the model schema of the
// pgfilter command.
package config

import (
	"log/slog"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/canonical/pgfilter"
	"github.com/canonical/pgfilter/model"
)

// EnvPrefix prefixes the environment variables overriding the configuration,
// e.g. PGFILTER_DSN.
const EnvPrefix = "PGFILTER"

// Config is the configuration of the pgfilter command.
type Config struct {
	Driver   string        `mapstructure:"driver"`
	DSN      string        `mapstructure:"dsn"`
	LogLevel string        `mapstructure:"log_level"`
	Models   []ModelConfig `mapstructure:"models"`
}

// ModelConfig describes one model.
type ModelConfig struct {
	Name string `mapstructure:"name"`
	// Table defaults to the lowercased name.
	Table      string           `mapstructure:"table"`
	Properties []PropertyConfig `mapstructure:"properties"`
	Relations  []RelationConfig `mapstructure:"relations"`
	Search     *SearchConfig    `mapstructure:"search"`
}

// PropertyConfig describes a property. Type is one of the names accepted by
// model.ParseType.
type PropertyConfig struct {
	Name     string `mapstructure:"name"`
	Column   string `mapstructure:"column"`
	Type     string `mapstructure:"type"`
	Nullable bool   `mapstructure:"nullable"`
}

// RelationConfig describes a relation to the model To.
type RelationConfig struct {
	Name    string `mapstructure:"name"`
	Type    string `mapstructure:"type"`
	To      string `mapstructure:"to"`
	KeyFrom string `mapstructure:"key_from"`
	KeyTo   string `mapstructure:"key_to"`
}

// SearchConfig enables the text search of a model.
type SearchConfig struct {
	Fields []string `mapstructure:"fields"`
	Joins  []string `mapstructure:"joins"`
	Column string   `mapstructure:"column"`
}

// Load reads the configuration file at path, if path is not empty, then
// applies the PGFILTER_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("driver", "postgres")
	v.SetDefault("dsn", "")
	v.SetDefault("log_level", "info")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "cannot read config %q", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "cannot decode config")
	}
	return &cfg, nil
}

// Level returns the configured log level.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, errors.Wrapf(err, "invalid log level %q", c.LogLevel)
	}
	return level, nil
}

var relationTypes = map[string]model.RelationType{
	"belongsto": model.BelongsTo,
	"hasone":    model.HasOne,
	"hasmany":   model.HasMany,
}

// Registry builds the models of the configuration.
func (c *Config) Registry() (*model.Registry, error) {
	r := model.NewRegistry()
	for _, mc := range c.Models {
		if mc.Name == "" {
			return nil, errors.New("cannot define model: empty name")
		}
		props := make([]model.Property, len(mc.Properties))
		for i, pc := range mc.Properties {
			t, ok := model.ParseType(pc.Type)
			if !ok {
				return nil, errors.Errorf("cannot define model %q: property %q has unknown type %q", mc.Name, pc.Name, pc.Type)
			}
			props[i] = model.Property{Name: pc.Name, Column: pc.Column, Type: t, Nullable: pc.Nullable}
		}
		rels := make([]model.Relation, len(mc.Relations))
		for i, rc := range mc.Relations {
			rt := model.BelongsTo
			if rc.Type != "" {
				var ok bool
				rt, ok = relationTypes[strings.ToLower(rc.Type)]
				if !ok {
					return nil, errors.Errorf("cannot define model %q: relation %q has unknown type %q", mc.Name, rc.Name, rc.Type)
				}
			}
			rels[i] = model.Relation{Name: rc.Name, Type: rt, To: rc.To, KeyFrom: rc.KeyFrom, KeyTo: rc.KeyTo}
		}
		m := model.New(mc.Name, props...).WithRelations(rels...)
		if mc.Table != "" {
			m.Table = mc.Table
		}
		r.Define(m)
	}
	return r, nil
}

// ApplySearch enables the text search of the configured models on conn.
func (c *Config) ApplySearch(conn *pgfilter.Connector) error {
	for _, mc := range c.Models {
		if mc.Search == nil {
			continue
		}
		err := conn.ApplySearch(mc.Name, pgfilter.SearchOptions{
			Fields: mc.Search.Fields,
			Joins:  mc.Search.Joins,
			Column: mc.Search.Column,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

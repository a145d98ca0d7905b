// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package driveconfig reads and rewrites the per-drive persisted
// configuration files (spec.md §4.8's facet-refresh step: "ATA/NVMe
// configuration read from the drive's persisted config file"): one
// flat key=value file per VPD id, under an ATA group, with recognized
// keys StandbyTimeout, APMLevel, AAMLevel, WriteCacheEnabled and
// ReadLookaheadEnabled. Keys this package doesn't recognize are kept
// verbatim across a read-modify-write cycle.
package driveconfig

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-ini/ini"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("subsystem", "driveconfig")

// SetLogger rebinds the package logger.
func SetLogger(logger *logrus.Entry) {
	fields := log.Data
	log = logger.WithFields(fields)
}

const ataSection = "ATA"

// ATA holds the recognized ATA-group keys (spec.md §4.8's enumerated
// list). A nil *int32/*bool field means the key was absent from the
// file; zero values are distinct from absence.
type ATA struct {
	StandbyTimeout       *int32
	APMLevel             *int32
	AAMLevel             *int32
	WriteCacheEnabled    *bool
	ReadLookaheadEnabled *bool
}

// Config is one drive's persisted configuration file: the parsed ATA
// group plus the underlying *ini.File, kept around so Save rewrites
// every section and key this package doesn't know about unchanged.
type Config struct {
	path string
	file *ini.File
	ATA  ATA
}

// Path returns the file path vpd's configuration is read from and
// written to, given the configured directory (spec.md §4.8:
// "<sysconfdir>/<appdir>/<id>.conf").
func Path(dir, vpd string) string {
	return filepath.Join(dir, vpd+".conf")
}

// VPDFromPath reverses Path: given a changed file's name, it returns
// the VPD id the file belongs to, or "" if the name doesn't carry the
// ".conf" suffix this package writes.
func VPDFromPath(path string) string {
	base := filepath.Base(path)
	const suffix = ".conf"
	if len(base) <= len(suffix) || base[len(base)-len(suffix):] != suffix {
		return ""
	}
	return base[:len(base)-len(suffix)]
}

// Load reads vpd's configuration file from dir. A missing file is not
// an error: it yields an empty Config ready to be populated and saved.
func Load(dir, vpd string) (*Config, error) {
	path := Path(dir, vpd)

	f, err := ini.LooseLoad(path)
	if err != nil {
		return nil, err
	}

	c := &Config{path: path, file: f}
	sec := f.Section(ataSection)

	c.ATA.StandbyTimeout = optionalInt32(sec, "StandbyTimeout")
	c.ATA.APMLevel = optionalInt32(sec, "APMLevel")
	c.ATA.AAMLevel = optionalInt32(sec, "AAMLevel")
	c.ATA.WriteCacheEnabled = optionalBool(sec, "WriteCacheEnabled")
	c.ATA.ReadLookaheadEnabled = optionalBool(sec, "ReadLookaheadEnabled")

	return c, nil
}

// Save writes the current ATA fields back into the underlying
// *ini.File and persists it to disk, preserving every section and key
// this package did not itself recognize.
func (c *Config) Save() error {
	sec := c.file.Section(ataSection)

	setOrDeleteInt32(sec, "StandbyTimeout", c.ATA.StandbyTimeout)
	setOrDeleteInt32(sec, "APMLevel", c.ATA.APMLevel)
	setOrDeleteInt32(sec, "AAMLevel", c.ATA.AAMLevel)
	setOrDeleteBool(sec, "WriteCacheEnabled", c.ATA.WriteCacheEnabled)
	setOrDeleteBool(sec, "ReadLookaheadEnabled", c.ATA.ReadLookaheadEnabled)

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return err
	}
	if err := c.file.SaveTo(c.path); err != nil {
		log.WithError(err).WithField("path", c.path).Warn("failed to persist drive configuration")
		return err
	}
	return nil
}

func optionalInt32(sec *ini.Section, key string) *int32 {
	if !sec.HasKey(key) {
		return nil
	}
	v, err := sec.Key(key).Int()
	if err != nil {
		log.WithError(err).WithField("key", key).Warn("ignoring malformed drive configuration key")
		return nil
	}
	v32 := int32(v)
	return &v32
}

func optionalBool(sec *ini.Section, key string) *bool {
	if !sec.HasKey(key) {
		return nil
	}
	v, err := sec.Key(key).Bool()
	if err != nil {
		log.WithError(err).WithField("key", key).Warn("ignoring malformed drive configuration key")
		return nil
	}
	return &v
}

func setOrDeleteInt32(sec *ini.Section, key string, v *int32) {
	if v == nil {
		sec.DeleteKey(key)
		return
	}
	sec.Key(key).SetValue(strconv.FormatInt(int64(*v), 10))
}

func setOrDeleteBool(sec *ini.Section, key string, v *bool) {
	if v == nil {
		sec.DeleteKey(key)
		return
	}
	if *v {
		sec.Key(key).SetValue("true")
	} else {
		sec.Key(key).SetValue("false")
	}
}

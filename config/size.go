package config

import (
	"time"

	"github.com/docker/go-units"
)

type SizeArgument struct {
	Size int64 `arg:"" help:"size in bytes"`
}

func (s *SizeArgument) UnmarshalText(text []byte) (err error) {
	s.Size, err = units.FromHumanSize(string(text))
	return
}

func (s SizeArgument) String() string {
	if s.Size <= 0 {
		return "unlimited"
	}
	return units.HumanSize(float64(s.Size))
}

// Duration accepts Go duration strings such as "720h" or "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) (err error) {
	d.Duration, err = time.ParseDuration(string(text))
	return
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

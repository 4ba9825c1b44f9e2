package config

import "time"

type OAuthConfig interface {
	GetAuthCodeLifetime() time.Duration
	GetAccessTokenExpiry() time.Duration
	GetIDTokenExpiry() time.Duration
	GetRefreshTokenExpiry() time.Duration
	GetPushedRequestLifetime() time.Duration
	GetDeviceCodeLifetime() time.Duration
	GetDevicePollInterval() time.Duration
}

type OAuth struct{}

var _ OAuthConfig = OAuth{}

func (OAuth) GetAuthCodeLifetime() time.Duration {
	return 2 * time.Minute
}

func (OAuth) GetAccessTokenExpiry() time.Duration {
	return 10 * time.Minute
}

func (OAuth) GetIDTokenExpiry() time.Duration {
	return 1 * time.Hour
}

func (OAuth) GetRefreshTokenExpiry() time.Duration {
	return 30 * 24 * time.Hour
}

func (OAuth) GetPushedRequestLifetime() time.Duration {
	return 90 * time.Second
}

func (OAuth) GetDeviceCodeLifetime() time.Duration {
	return 10 * time.Minute
}

func (OAuth) GetDevicePollInterval() time.Duration {
	return 5 * time.Second
}

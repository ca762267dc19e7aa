package config

// Telemetry configures OTLP export of traces and metrics.
type Telemetry struct {
	ServiceName string            `toml:"ServiceName" yaml:"service_name"`
	Endpoint    string            `toml:"Endpoint" yaml:"endpoint"`
	Insecure    bool              `toml:"Insecure" yaml:"insecure"`
	Headers     map[string]string `toml:"Headers" yaml:"headers"`
	Metrics     bool              `toml:"Metrics" yaml:"metrics"`
	Traces      bool              `toml:"Traces" yaml:"traces"`
}

// Enabled reports whether any exporter should be started.
func (t Telemetry) Enabled() bool {
	return t.Endpoint != "" && (t.Metrics || t.Traces)
}

// RPCJWT enables HS256 bearer tokens on the RPC server in addition to the
// static RPCToken. The secret itself is read from the HSSecretEnv variable.
type RPCJWT struct {
	Enable         bool   `toml:"Enable" yaml:"enable"`
	HSSecretEnv    string `toml:"HSSecretEnv" yaml:"hs_secret_env"`
	Issuer         string `toml:"Issuer" yaml:"issuer"`
	Audience       string `toml:"Audience" yaml:"audience"`
	MaxSkewSeconds int64  `toml:"MaxSkewSeconds" yaml:"max_skew_seconds"`
}

// SignerPolicy binds an M-of-N multisig policy to a signer identity. Offers
// and check-ins signed for Identity carry concatenated member signatures.
type SignerPolicy struct {
	Identity  string   `toml:"Identity" yaml:"identity"`
	Threshold int      `toml:"Threshold" yaml:"threshold"`
	Members   []string `toml:"Members" yaml:"members"`
}

package config

import (
	stderrors "errors"
	"os"
	"strings"

	"github.com/juju/errors"
	"github.com/spf13/viper"

	"github.com/use-go/camprobe"
)

// EnvPrefix prefixes every environment override, e.g. CAMPROBE_SUBNET
const EnvPrefix = "CAMPROBE"

// New reads cfgFile, or $HOME/.camprobe.yaml when cfgFile is empty, plus
// CAMPROBE_* environment variables. A missing default file is not an error.
func New(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigType("yaml")
		v.SetConfigName(".camprobe")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !stderrors.As(err, &notFound) {
			return nil, errors.Annotate(err, "read config")
		}
	}
	return v, nil
}

// Load decodes the settings into a camprobe.Config
func Load(v *viper.Viper) (camprobe.Config, error) {
	cfg := camprobe.DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return camprobe.Config{}, errors.Annotate(err, "decode config")
	}
	if cfg.Subnet != "" {
		if _, err := camprobe.ParseSubnet(cfg.Subnet); err != nil {
			return camprobe.Config{}, err
		}
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := camprobe.DefaultConfig()
	v.SetDefault("subnet", d.Subnet)
	v.SetDefault("discovery_timeout", d.DiscoveryTimeout)
	v.SetDefault("connect_timeout", d.ConnectTimeout)
	v.SetDefault("rtsp_paths", d.RTSPPaths)
	v.SetDefault("rtsp_port", d.RTSPPort)
	v.SetDefault("sweep_ports", d.SweepPorts)
	v.SetDefault("sweep_paths", d.SweepPaths)
	v.SetDefault("sweep_interval", d.SweepInterval)
	v.SetDefault("sweep_concurrency", d.SweepConcurrency)
	v.SetDefault("reach_timeout", d.ReachTimeout)
	v.SetDefault("soap_timeout", d.SOAPTimeout)
	v.SetDefault("enrich", d.Enrich)
	v.SetDefault("insecure_tls", d.InsecureTLS)
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("username", d.Username)
	v.SetDefault("password", d.Password)
	v.SetDefault("stability_interval", d.StabilityInterval)
}

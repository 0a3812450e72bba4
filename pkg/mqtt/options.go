package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// TLSOptions holds TLS configuration that can be decoded from config files
type TLSOptions struct {
	InsecureSkipVerify bool   `json:"insecureSkipVerify" mapstructure:"insecureSkipVerify"`
	ServerName         string `json:"serverName,omitempty" mapstructure:"serverName"`
	CAFile             string `json:"caFile,omitempty" mapstructure:"caFile"`
	CertFile           string `json:"certFile,omitempty" mapstructure:"certFile"`
	KeyFile            string `json:"keyFile,omitempty" mapstructure:"keyFile"`
	CACert             string `json:"caCert,omitempty" mapstructure:"caCert"`
	ClientCert         string `json:"clientCert,omitempty" mapstructure:"clientCert"`
	ClientKey          string `json:"clientKey,omitempty" mapstructure:"clientKey"`
}

// Options is the broker connection configuration shared by the MQTT
// adapter, the MQTT sink and the command line clients.
type Options struct {
	TLS            *TLSOptions   `json:"tls,omitempty" mapstructure:"tls"`
	ClientID       string        `json:"clientID" mapstructure:"clientID"`
	Username       string        `json:"username" mapstructure:"username"`
	Password       string        `json:"password" mapstructure:"password"`
	Servers        []string      `json:"servers" mapstructure:"servers"`
	KeepAlive      time.Duration `json:"keepAlive" mapstructure:"keepAlive"`
	ConnectTimeout time.Duration `json:"connectTimeout" mapstructure:"connectTimeout"`
	CleanSession   bool          `json:"cleanSession" mapstructure:"cleanSession"`
}

// DefaultServer is used when no server is configured.
const DefaultServer = "tcp://127.0.0.1:1883"

// ToPaho converts the options into paho client options. A client id is
// generated from prefix when none is set.
func (o Options) ToPaho(prefix string) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions()

	servers := o.Servers
	if len(servers) == 0 {
		servers = []string{DefaultServer}
	}
	for _, server := range servers {
		opts.AddBroker(server)
	}

	clientID := o.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("%s-%s", prefix, uuid.NewString()[:8])
	}
	opts.SetClientID(clientID)

	if o.Username != "" {
		opts.SetUsername(o.Username)
	}
	if o.Password != "" {
		opts.SetPassword(o.Password)
	}
	if o.TLS != nil {
		tlsConfig, err := createTLSConfig(o.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}
	if o.KeepAlive > 0 {
		opts.SetKeepAlive(o.KeepAlive)
	}
	if o.ConnectTimeout > 0 {
		opts.SetConnectTimeout(o.ConnectTimeout)
	}

	opts.SetCleanSession(o.CleanSession)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(false)
	return opts, nil
}

func createTLSConfig(tlsOpts *TLSOptions) (*tls.Config, error) {
	config := &tls.Config{
		InsecureSkipVerify: tlsOpts.InsecureSkipVerify,
		ServerName:         tlsOpts.ServerName,
	}

	// Load CA certificate
	if tlsOpts.CAFile != "" || tlsOpts.CACert != "" {
		caCertPool := x509.NewCertPool()

		var caCert []byte
		var err error

		if tlsOpts.CAFile != "" {
			caCert, err = os.ReadFile(tlsOpts.CAFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read CA file: %w", err)
			}
		} else {
			caCert = []byte(tlsOpts.CACert)
		}

		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}

		config.RootCAs = caCertPool
	}

	// Load client certificate and key
	if (tlsOpts.CertFile != "" && tlsOpts.KeyFile != "") ||
		(tlsOpts.ClientCert != "" && tlsOpts.ClientKey != "") {

		var cert tls.Certificate
		var err error

		if tlsOpts.CertFile != "" && tlsOpts.KeyFile != "" {
			cert, err = tls.LoadX509KeyPair(tlsOpts.CertFile, tlsOpts.KeyFile)
		} else {
			cert, err = tls.X509KeyPair([]byte(tlsOpts.ClientCert), []byte(tlsOpts.ClientKey))
		}

		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}

		config.Certificates = []tls.Certificate{cert}
	}

	return config, nil
}

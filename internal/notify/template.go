package notify

import (
	"bytes"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"text/template"

	"github.com/nerrad567/tracker-broker-core/internal/credential"
)

const credentialsSubject = "MQTT Device Credentials"

var credentialsBody = template.Must(template.New("credentials").Parse(
	`Your MQTT credentials for device {{.DeviceName}} (ID: {{.DeviceID}}):

MQTT Broker:   {{.BrokerURL}}
Host:          {{.BrokerHost}}
Port:          {{.BrokerPort}}
Username:      {{.Username}}
Password:      {{.Password}}
Topic Pattern: {{.TopicPattern}}

OwnTracks app setup:
1. Open the OwnTracks app
2. Go to Settings > Connection
3. Set Mode to "MQTT"
4. Enter the credentials above:
   - Host: {{.BrokerHost}}
   - Port: {{.BrokerPort}}
   - Username: {{.Username}}
   - Password: {{.Password}}
   - Device ID: {{.DeviceID}}
5. Save settings
6. The app will connect automatically

Keep these credentials secure. Do not share them with unauthorized persons.

If you have any questions or need assistance, please contact your administrator.

Best regards,
Location Tracker Team
`))

// Broker is the broker address given to device owners.
type Broker struct {
	URL  string
	Host string
	Port int
}

// ParseBroker splits a broker URL such as "mqtt://tracker.example.com:1883".
// A missing port defaults to 1883, or 8883 for mqtts and ssl schemes.
func ParseBroker(raw string) (Broker, error) {
	if raw == "" {
		raw = "mqtt://localhost:1883"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return Broker{}, fmt.Errorf("invalid broker url %q", raw)
	}

	b := Broker{URL: raw, Host: u.Hostname(), Port: 1883}
	switch u.Scheme {
	case "mqtt", "tcp":
	case "mqtts", "ssl", "tls":
		b.Port = 8883
	default:
		return Broker{}, fmt.Errorf("unsupported broker url scheme %q", u.Scheme)
	}

	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return Broker{}, fmt.Errorf("invalid broker port %q", p)
		}
		b.Port = port
	}
	return b, nil
}

// HostPort returns "host:port".
func (b Broker) HostPort() string {
	return net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

type credentialsView struct {
	credential.Notice
	BrokerURL  string
	BrokerHost string
	BrokerPort int
}

// RenderCredentials renders the plain-text credential mail body.
func RenderCredentials(n credential.Notice, b Broker) (string, error) {
	if n.DeviceName == "" {
		n.DeviceName = "Device"
	}
	var buf bytes.Buffer
	err := credentialsBody.Execute(&buf, credentialsView{
		Notice:     n,
		BrokerURL:  b.URL,
		BrokerHost: b.Host,
		BrokerPort: b.Port,
	})
	if err != nil {
		return "", fmt.Errorf("rendering credential mail: %w", err)
	}
	return buf.String(), nil
}

package oauth

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/provly/consumer-gateway/internal/model"
)

func TestIPAllowed(t *testing.T) {
	cases := []struct {
		name    string
		entries []string
		addr    string
		want    bool
	}{
		{"empty list allows anything", nil, "203.0.113.5", true},
		{"cidr match", []string{"10.0.0.0/8"}, "10.1.2.3", true},
		{"cidr miss", []string{"10.0.0.0/8"}, "203.0.113.5", false},
		{"exact address match", []string{"192.0.2.7"}, "192.0.2.7", true},
		{"exact address miss", []string{"192.0.2.7"}, "192.0.2.8", false},
		{"second entry matches", []string{"192.0.2.7", "10.0.0.0/8"}, "10.9.9.9", true},
		{"ipv6 prefix", []string{"2001:db8::/32"}, "2001:db8::1", true},
		{"mapped v4 caller", []string{"10.0.0.0/8"}, "::ffff:10.1.2.3", true},
		{"garbage entry fails closed", []string{"not-an-ip"}, "10.1.2.3", false},
		{"garbage caller fails closed", []string{"10.0.0.0/8"}, "not-an-ip", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ipAllowed(model.Restrictions{IPAddresses: tc.entries}, tc.addr)
			assert.Equal(t, tc.want, got)
		})
	}
}

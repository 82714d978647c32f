// Package connstr parses Redis connection strings of the form
//
//	scheme://[:password@]host:port[/db]
//
// A numeric db segment selects a single node; leaving it out selects
// cluster mode. The rediss scheme enables TLS.
package connstr

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Format is the accepted connection string layout, shown in errors.
const Format = "<scheme>://[:password@]<host>:<port>[/db] (omit db for cluster mode)"

var (
	// ErrInvalid indicates a connection string that does not match Format.
	ErrInvalid = errors.New("connstr: invalid connection string")
)

// Options holds the parsed connection parameters.
type Options struct {
	TLS      bool
	Password string
	Host     string
	Port     int
	// DB is the database number; nil means cluster mode.
	DB *int
}

// Cluster reports whether the string selected cluster mode.
func (o Options) Cluster() bool {
	return o.DB == nil
}

// Addr returns host:port.
func (o Options) Addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// String renders the options back into a connection string with the
// password redacted.
func (o Options) String() string {
	scheme := "redis"
	if o.TLS {
		scheme = "rediss"
	}
	auth := ""
	if o.Password != "" {
		auth = ":***@"
	}
	s := fmt.Sprintf("%s://%s%s", scheme, auth, o.Addr())
	if o.DB != nil {
		s += "/" + strconv.Itoa(*o.DB)
	}
	return s
}

// Parse parses a connection string. Everything between "://" and the last
// "@" is the password, taken verbatim with no URL unescaping, so it may
// contain any character. A leading ":" (empty user name) is dropped, as is
// any user name before the first ":".
func Parse(s string) (Options, error) {
	s = strings.TrimSpace(s)
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok {
		return Options{}, fmt.Errorf("%w: missing scheme, should be: %s", ErrInvalid, Format)
	}

	var opts Options
	switch scheme {
	case "redis":
	case "rediss":
		opts.TLS = true
	default:
		return Options{}, fmt.Errorf("%w: unknown scheme %q, should be: %s", ErrInvalid, scheme, Format)
	}

	if at := strings.LastIndex(rest, "@"); at >= 0 {
		userinfo := rest[:at]
		rest = rest[at+1:]
		if _, pw, found := strings.Cut(userinfo, ":"); found {
			opts.Password = pw
		} else {
			opts.Password = userinfo
		}
	}

	hostport, db, _ := strings.Cut(rest, "/")
	host, port, err := net.SplitHostPort(hostport)
	if err != nil || host == "" || port == "" {
		return Options{}, fmt.Errorf("%w: missing host or port, should be: %s", ErrInvalid, Format)
	}
	opts.Host = host
	opts.Port, err = strconv.Atoi(port)
	if err != nil || opts.Port <= 0 || opts.Port > 65535 {
		return Options{}, fmt.Errorf("%w: bad port %q", ErrInvalid, port)
	}

	if db = strings.TrimSuffix(db, "/"); db != "" {
		n, err := strconv.Atoi(db)
		if err != nil || n < 0 {
			return Options{}, fmt.Errorf("%w: db %q is not a number", ErrInvalid, db)
		}
		opts.DB = &n
	}

	return opts, nil
}

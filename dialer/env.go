package dialer

import "strings"

// Environ converts a resolved proxy list into "KEY=VALUE" entries for tools
// that only honor the conventional proxy environment variables. The first
// usable http or https entry sets HTTP_PROXY and HTTPS_PROXY, and the first
// socks5 entry sets ALL_PROXY, each in upper and lower case. Entries after a
// direct:// are not used, so a list starting with direct:// yields nothing.
func Environ(specs []string) []string {
	var httpProxy, socksProxy string
	for _, spec := range specs {
		u, err := ParseProxy(spec)
		if err != nil {
			continue
		}
		if u.Scheme == schemeDirect {
			break
		}
		switch u.Scheme {
		case "http", "https":
			if httpProxy == "" {
				httpProxy = u.String()
			}
		case "socks5", "socks5h":
			if socksProxy == "" {
				socksProxy = u.String()
			}
		}
	}

	var env []string
	if httpProxy != "" {
		env = append(env,
			"HTTP_PROXY="+httpProxy,
			"http_proxy="+httpProxy,
			"HTTPS_PROXY="+httpProxy,
			"https_proxy="+httpProxy,
		)
	}
	if socksProxy != "" {
		env = append(env,
			"ALL_PROXY="+socksProxy,
			"all_proxy="+socksProxy,
		)
	}
	return env
}

// MergeEnv returns base with every "KEY=VALUE" in overrides set, replacing
// existing keys in place and appending new ones. base is not modified.
func MergeEnv(base, overrides []string) []string {
	out := append([]string(nil), base...)
	for _, kv := range overrides {
		key, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		out = setEnv(out, key, kv)
	}
	return out
}

func setEnv(env []string, key, kv string) []string {
	prefix := key + "="
	for i, e := range env {
		if strings.HasPrefix(e, prefix) {
			env[i] = kv
			return env
		}
	}
	return append(env, kv)
}

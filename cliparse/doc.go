// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package cliparse loads server configuration.

	cfg, err := cliparse.ParseFlags(os.Args[1:])

# Sources

Later sources override earlier ones:

 1. Defaults()
 2. YAML file from -c or PKARENA_CONFIG
 3. PORT and DATABASE_URL
 4. PKARENA_* environment variables (PKARENA_LOCK_TTL sets lock_ttl)
 5. CLI flags

PKARENA_ALLOWED_ORIGINS is comma-separated. Durations use Go syntax ("10m").

# CLI Flags

	-c            YAML config file
	-p            Server port
	-d            Database URL
	-t            Database type (sqlite or postgres)
	--log-level   debug, info, warn or error
	--jwt-secret  JWT signing secret
	--ip-salt     IP hash salt

# Validation

ParseFlags fails when the JWT secret or IP salt is missing, when a TTL or
limit is not positive, or when the database type is unknown.
*/
package cliparse

package scylla

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_bucket int,
		user_id text,
		phone_number text,
		email text,
		full_name text,
		is_verified boolean,
		created_at timestamp,
		updated_at timestamp,
		last_login_at timestamp,
		PRIMARY KEY ((user_bucket), user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS users_by_phone (
		phone_number text PRIMARY KEY,
		user_id text
	)`,
	`CREATE TABLE IF NOT EXISTS users_by_email (
		email text PRIMARY KEY,
		user_id text
	)`,
	`CREATE TABLE IF NOT EXISTS one_time_codes (
		phone_number text,
		purpose text,
		code_hash text,
		code_salt text,
		hash_algorithm text,
		pepper_version int,
		attempts int,
		max_attempts int,
		verified boolean,
		expires_at timestamp,
		created_at timestamp,
		PRIMARY KEY ((phone_number, purpose))
	)`,
	`CREATE TABLE IF NOT EXISTS oauth_links (
		user_id text,
		provider text,
		provider_user_id text,
		provider_email text,
		provider_name text,
		access_token text,
		refresh_token text,
		created_at timestamp,
		updated_at timestamp,
		PRIMARY KEY ((user_id), provider)
	)`,
	`CREATE TABLE IF NOT EXISTS oauth_links_by_identity (
		provider text,
		provider_user_id text,
		user_id text,
		PRIMARY KEY ((provider, provider_user_id))
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		token_hash text PRIMARY KEY,
		user_id text,
		ip_address text,
		user_agent text,
		created_at timestamp,
		expires_at timestamp
	)`,
}

package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pixfil/masterclass-orders/internal/storage/postgres"
)

type sessionJSON struct {
	ID          string          `json:"id"`
	FormationID string          `json:"formation_id"`
	CategoryID  string          `json:"category_id"`
	Title       string          `json:"title"`
	Price       decimal.Decimal `json:"price"`
	Capacity    int             `json:"capacity"`
	StartsAt    time.Time       `json:"starts_at"`
}

func main() {
	var (
		databaseURL  string
		sessionsFile string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&sessionsFile, "sessions-file", "db/seed/sessions.json", "path to training sessions JSON file")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or MCO_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or MCO_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("MCO_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or MCO_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("MCO_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, sessionsFile, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, sessionsFile, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedSessions(ctx, pool, sessionsFile); err != nil {
		return errors.Wrap(err, "seed sessions")
	}

	if err := seedCustomers(ctx, pool); err != nil {
		return errors.Wrap(err, "seed customers")
	}

	if err := seedPromoCodes(ctx, pool); err != nil {
		return errors.Wrap(err, "seed promo codes")
	}

	if err := seedAPIKey(ctx, pool, apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedSessions(ctx context.Context, pool *pgxpool.Pool, sessionsFile string) error {
	slog.Info("reading sessions file", slog.String("path", sessionsFile))

	data, err := os.ReadFile(sessionsFile)
	if err != nil {
		return errors.Wrap(err, "read sessions file")
	}

	var sessions []sessionJSON
	if err := json.Unmarshal(data, &sessions); err != nil {
		return errors.Wrap(err, "parse sessions JSON")
	}

	slog.Info("upserting training sessions", slog.Int("count", len(sessions)))

	for _, s := range sessions {
		_, err := pool.Exec(ctx, `
			INSERT INTO training_sessions (id, formation_id, category_id, title, price, capacity, starts_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				formation_id = EXCLUDED.formation_id,
				category_id  = EXCLUDED.category_id,
				title        = EXCLUDED.title,
				price        = EXCLUDED.price,
				capacity     = EXCLUDED.capacity,
				starts_at    = EXCLUDED.starts_at`,
			s.ID, s.FormationID, s.CategoryID, s.Title, s.Price, s.Capacity, s.StartsAt,
		)
		if err != nil {
			return errors.Wrapf(err, "upsert session %s", s.ID)
		}

		slog.Info("upserted session", slog.String("id", s.ID), slog.String("title", s.Title))
	}

	return nil
}

func seedCustomers(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding demo customers")

	customers := []struct {
		id, email, role, country string
	}{
		{"cust-demo-1", "demo@example.com", "all", "FR"},
		{"cust-demo-2", "premium@example.com", "premium", "FR"},
		{"cust-demo-3", "abroad@example.com", "all", "BE"},
	}

	for _, c := range customers {
		_, err := pool.Exec(ctx, `
			INSERT INTO customers (id, email, role, billing_country)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET
				email           = EXCLUDED.email,
				role            = EXCLUDED.role,
				billing_country = EXCLUDED.billing_country`,
			c.id, c.email, c.role, c.country,
		)
		if err != nil {
			return errors.Wrapf(err, "upsert customer %s", c.id)
		}
	}

	return nil
}

type seedCode struct {
	id, code, description, discountType string
	value, minOrder                     decimal.Decimal
	maxDiscount                         *decimal.Decimal
	roles                               []string
	usageLimit, perUser                 int
	firstOrderOnly, autoApply, stack    bool
	validUntil                          *time.Time
}

func seedPromoCodes(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding demo promo codes")

	cap50 := decimal.NewFromInt(50)
	endOfYear := time.Date(time.Now().Year(), 12, 31, 23, 59, 59, 0, time.UTC)

	codes := []seedCode{
		{
			id: "promo-welcome10", code: "WELCOME10",
			description:  "Welcome: 10% off your first order",
			discountType: "percentage", value: decimal.NewFromInt(10),
			maxDiscount: &cap50, perUser: 1, firstOrderOnly: true,
		},
		{
			id: "promo-summer25", code: "SUMMER25",
			description:  "Summer: 25 EUR off orders over 200 EUR",
			discountType: "fixed_amount", value: decimal.NewFromInt(25),
			minOrder: decimal.NewFromInt(200), validUntil: &endOfYear,
		},
		{
			id: "promo-premium15", code: "PREMIUM15",
			description:  "Premium members: 15% off, stacks with other codes",
			discountType: "percentage", value: decimal.NewFromInt(15),
			roles: []string{"premium"}, stack: true,
		},
		{
			id: "promo-lastseat", code: "LASTSEAT20",
			description:  "Last seat: 20 EUR off, single redemption across all customers",
			discountType: "fixed_amount", value: decimal.NewFromInt(20),
			usageLimit: 1, stack: true,
		},
		{
			id: "promo-autumn", code: "AUTUMN5",
			description:  "Autumn: 5 EUR off, applied automatically",
			discountType: "fixed_amount", value: decimal.NewFromInt(5),
			minOrder: decimal.NewFromInt(100), autoApply: true, stack: true,
		},
	}

	for _, c := range codes {
		roles := c.roles
		if roles == nil {
			roles = []string{}
		}
		_, err := pool.Exec(ctx, `
			INSERT INTO promo_codes (
				id, code, description, discount_type, discount_value,
				minimum_order_amount, maximum_discount_amount, user_role_restrictions,
				usage_limit, usage_limit_per_user, valid_until,
				first_order_only, auto_apply, stackable, status
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 'active')
			ON CONFLICT ((UPPER(code))) DO UPDATE SET
				description          = EXCLUDED.description,
				discount_type        = EXCLUDED.discount_type,
				discount_value       = EXCLUDED.discount_value,
				minimum_order_amount = EXCLUDED.minimum_order_amount,
				status               = 'active'`,
			c.id, c.code, c.description, c.discountType, c.value,
			c.minOrder, c.maxDiscount, roles,
			c.usageLimit, c.perUser, c.validUntil,
			c.firstOrderOnly, c.autoApply, c.stack,
		)
		if err != nil {
			return errors.Wrapf(err, "upsert promo code %s", c.code)
		}

		slog.Info("upserted promo code", slog.String("code", c.code), slog.String("description", c.description))
	}

	return nil
}

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, apiKey, pepper string) error {
	slog.Info("seeding admin API key")

	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(apiKey))
	keyHash := hex.EncodeToString(mac.Sum(nil))

	_, err := pool.Exec(ctx, `
		INSERT INTO api_keys (id, key_hash, name, scopes)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			key_hash = EXCLUDED.key_hash,
			name     = EXCLUDED.name,
			scopes   = EXCLUDED.scopes`,
		"admin", keyHash, "Admin back-office key", []string{"orders:read", "orders:write"},
	)
	if err != nil {
		return errors.Wrap(err, "upsert admin API key")
	}

	slog.Info("upserted API key", slog.String("id", "admin"), slog.String("name", "Admin back-office key"))

	return nil
}

// Command seed-db loads the product catalog into PostgreSQL and can mint a
// bearer token for local testing.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/storage/postgres"
)

type productJSON struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Brand     string          `json:"brand"`
	Price     decimal.Decimal `json:"price"`
	Category  string          `json:"category"`
	Available *bool           `json:"available"`
	Image     struct {
		Thumbnail string `json:"thumbnail"`
		Mobile    string `json:"mobile"`
		Tablet    string `json:"tablet"`
		Desktop   string `json:"desktop"`
	} `json:"image"`
}

func main() {
	var (
		databaseURL  string
		productsFile string
		mintOwner    string
		mintTTL      time.Duration
	)
	flag.StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&mintOwner, "mint-token", "", "print a bearer token for this owner id and exit (uses SHOP_AUTH_JWTSECRET)")
	flag.DurationVar(&mintTTL, "token-ttl", 24*time.Hour, "lifetime of a minted token")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	if mintOwner != "" {
		token, err := mintToken(os.Getenv("SHOP_AUTH_JWTSECRET"), os.Getenv("SHOP_AUTH_ISSUER"), mintOwner, mintTTL)
		if err != nil {
			lg.Fatal("Mint token", zap.Error(err))
		}
		fmt.Println(token)
		return
	}

	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, productsFile); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, productsFile string) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool, lg.Named("migrate")); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	f, err := os.Open(productsFile)
	if err != nil {
		return errors.Wrap(err, "open products file")
	}
	defer func() { _ = f.Close() }()

	products, err := loadProducts(f)
	if err != nil {
		return errors.Wrapf(err, "load %s", productsFile)
	}

	repo := postgres.NewProductRepository(pool)
	for _, p := range products {
		if err := repo.Upsert(ctx, p); err != nil {
			return err
		}
		lg.Info("Upserted product", zap.String("id", p.ID), zap.Stringer("price", p.Price), zap.Bool("available", p.Available))
	}
	return nil
}

// loadProducts decodes the seed file. A missing "available" flag means the
// product is in stock.
func loadProducts(r io.Reader) ([]product.Product, error) {
	var raw []productJSON
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "decode products")
	}

	out := make([]product.Product, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, p := range raw {
		if p.ID == "" || p.Name == "" {
			return nil, errors.Errorf("product %q: id and name are required", p.ID)
		}
		if p.Price.IsNegative() {
			return nil, errors.Errorf("product %q: negative price", p.ID)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, errors.Errorf("product %q: duplicate id", p.ID)
		}
		seen[p.ID] = struct{}{}

		available := true
		if p.Available != nil {
			available = *p.Available
		}
		out = append(out, product.Product{
			ID:        p.ID,
			Name:      p.Name,
			Brand:     p.Brand,
			Price:     p.Price.Round(2),
			Category:  p.Category,
			Available: available,
			Image: product.Image{
				Thumbnail: p.Image.Thumbnail,
				Mobile:    p.Image.Mobile,
				Tablet:    p.Image.Tablet,
				Desktop:   p.Image.Desktop,
			},
		})
	}
	return out, nil
}

func mintToken(secret, issuer, owner string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("SHOP_AUTH_JWTSECRET is required to mint tokens")
	}
	if issuer == "" {
		issuer = "storefront"
	}
	return auth.NewTokenVerifier([]byte(secret), issuer).Mint(auth.Identity{OwnerID: owner}, ttl)
}

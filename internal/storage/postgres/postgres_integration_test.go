//go:build integration

package postgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "shop",
				"POSTGRES_PASSWORD": "shop",
				"POSTGRES_DB":       "shop",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := testcontainers.TerminateContainer(c); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	host, err := c.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://shop:shop@%s:%s/shop?sslmode=disable", host, port.Port())
	testPool, err = NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool, zap.NewNop()); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	return m.Run()
}

func seedProducts(t *testing.T) {
	t.Helper()
	repo := NewProductRepository(testPool)
	for _, p := range []product.Product{
		{ID: "P1", Name: "Runner", Brand: "Stride", Price: decimal.RequireFromString("100"), Available: true},
		{ID: "P2", Name: "Sock", Brand: "Stride", Price: decimal.RequireFromString("50"), Available: true},
	} {
		require.NoError(t, repo.Upsert(context.Background(), p))
	}
}

func newOwner() string { return "owner-" + uuid.NewString() }

func TestProductRepository(t *testing.T) {
	seedProducts(t)
	ctx := context.Background()
	repo := NewProductRepository(testPool)

	p, err := repo.GetByID(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, "Stride", p.Brand)
	assert.True(t, decimal.RequireFromString("100").Equal(p.Price))

	_, err = repo.GetByID(ctx, "missing")
	require.ErrorIs(t, err, product.ErrNotFound)

	got, err := repo.GetByIDs(ctx, []string{"P1", "P2", "missing"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestCartRepository_CollapseAndNullSize(t *testing.T) {
	seedProducts(t)
	ctx := context.Background()
	repo := NewCartRepository(testPool)
	owner := newOwner()

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, size := range []cart.Size{"9", "9", cart.NoSize} {
		require.NoError(t, repo.Insert(ctx, &cart.Row{
			ID:        uuid.NewString(),
			OwnerID:   owner,
			ProductID: "P1",
			Size:      size,
			Quantity:  i + 1,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	// Legacy rows written before sizes were normalized.
	for _, raw := range []string{"", "  ", "9 "} {
		_, err := testPool.Exec(ctx,
			`INSERT INTO cart_items (id, owner_id, product_id, size, quantity) VALUES ($1, $2, 'P1', $3, 1)`,
			uuid.NewString(), owner, raw)
		require.NoError(t, err)
	}

	all, err := repo.ListByOwner(ctx, owner)
	require.NoError(t, err)
	keys := make(map[cart.Key]int)
	for _, r := range all {
		keys[r.Key()]++
	}
	assert.Equal(t, map[cart.Key]int{
		{ProductID: "P1", Size: "9"}:         3,
		{ProductID: "P1", Size: cart.NoSize}: 3,
	}, keys)

	noSize, err := repo.ListByKey(ctx, owner, cart.Key{ProductID: "P1"})
	require.NoError(t, err)
	assert.Len(t, noSize, 3, "NULL, empty and blank sizes share a key")

	require.NoError(t, repo.Collapse(ctx, owner, cart.Key{ProductID: "P1", Size: "9"}, 7))
	nine, err := repo.ListByKey(ctx, owner, cart.Key{ProductID: "P1", Size: "9"})
	require.NoError(t, err)
	require.Len(t, nine, 1, "padded legacy row collapses with its key")
	assert.Equal(t, 7, nine[0].Quantity)

	err = repo.Collapse(ctx, owner, cart.Key{ProductID: "P2"}, 1)
	require.ErrorIs(t, err, cart.ErrLineNotFound)

	ids := make([]string, len(noSize))
	for i, r := range noSize {
		ids[i] = r.ID
	}
	n, err := repo.DeleteRows(ctx, owner, ids)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	left, err := repo.ListByKey(ctx, owner, cart.Key{ProductID: "P1"})
	require.NoError(t, err)
	assert.Empty(t, left, "blank legacy row is removable through its key")

	n, err = repo.DeleteByOwner(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestOrderRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(testPool)
	owner := newOwner()

	id := uuid.New()
	now := time.Now().UTC().Truncate(time.Millisecond)
	o := &order.Order{
		ID:        id.String(),
		Number:    order.NewNumber(now, id),
		OwnerID:   owner,
		Status:    order.StatusPending,
		Subtotal:  decimal.RequireFromString("350"),
		Tax:       decimal.RequireFromString("28"),
		Total:     decimal.RequireFromString("378"),
		Currency:  "ZAR",
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, repo.Create(ctx, o))
	require.NoError(t, repo.CreateItems(ctx, o.ID, []order.Item{
		{ID: uuid.NewString(), ProductID: "P1", Name: "Runner", Size: "9", Quantity: 3, UnitPrice: decimal.RequireFromString("100")},
		{ID: uuid.NewString(), ProductID: "P2", Name: "Sock", Quantity: 1, UnitPrice: decimal.RequireFromString("50")},
	}))
	require.NoError(t, repo.AttachSession(ctx, owner, o.ID, "s_1"))

	got, err := repo.FindBySession(ctx, owner, "s_1")
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "P1", got.Items[0].ProductID)
	assert.Equal(t, cart.NoSize, got.Items[1].Size)
	assert.True(t, decimal.RequireFromString("378").Equal(got.Total))

	_, err = repo.FindBySession(ctx, newOwner(), "s_1")
	require.ErrorIs(t, err, order.ErrNotFound)

	won, err := repo.Transition(ctx, owner, o.ID, order.StatusPending, order.StatusCompleted)
	require.NoError(t, err)
	assert.True(t, won)
	won, err = repo.Transition(ctx, owner, o.ID, order.StatusPending, order.StatusCompleted)
	require.NoError(t, err)
	assert.False(t, won)

	list, err := repo.ListByOwner(ctx, owner)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, order.StatusCompleted, list[0].Status)
	assert.Len(t, list[0].Items, 2)

	require.NoError(t, repo.Delete(ctx, owner, o.ID))
	_, err = repo.Get(ctx, owner, o.ID)
	require.ErrorIs(t, err, order.ErrNotFound)
}

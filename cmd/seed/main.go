// Package main applies the schema and seeds the default cost-element catalog.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"costengine/internal/core/id"
	"costengine/internal/domain/catalog"
	"costengine/internal/infrastructure/storage/postgres"
	"costengine/internal/infrastructure/storage/postgres/catalog_repo"
	"costengine/pkg/logger"
)

// elementNamespace derives stable element ids from names so reseeding updates in place.
var elementNamespace = uuid.MustParse("6f1d2c1e-7a0b-4f37-9a55-2b8f3f0c9d41")

func elementID(name string) id.ID {
	return uuid.NewSHA1(elementNamespace, []byte(name))
}

func element(name string, category catalog.Category, unit string, method catalog.Method, rate string, optional bool, stages ...catalog.Stage) catalog.CostElement {
	return catalog.CostElement{
		ID:          elementID(name),
		Name:        name,
		Category:    category,
		UnitType:    unit,
		Method:      method,
		DefaultRate: decimal.RequireFromString(rate),
		Optional:    optional,
		Stages:      stages,
	}
}

func defaultElements() []catalog.CostElement {
	bagging := element("Bagging labour", catalog.CategoryLabor, "per kilogram", catalog.MethodPerQuantity, "0.35", false, catalog.StageCompleteBatch)
	bagging.UseOutputQuantity = true

	return []catalog.CostElement{
		element("Dryer loading labour", catalog.CategoryLabor, "per kilogram", catalog.MethodPerQuantity, "0.40", false, catalog.StageDrying),
		element("Dryer fuel", catalog.CategoryUtilities, "per hour", catalog.MethodPerHour, "180", false, catalog.StageDrying),
		element("Moisture testing", catalog.CategoryQuality, "per batch", catalog.MethodFixed, "150", true, catalog.StageDrying),
		element("Crusher power", catalog.CategoryUtilities, "per hour", catalog.MethodPerHour, "95", false, catalog.StageCrushing),
		element("Crusher operator", catalog.CategoryLabor, "per hour", catalog.MethodPerHour, "60", false, catalog.StageCrushing),
		element("Blade maintenance", catalog.CategoryMaintenance, "per batch", catalog.MethodActualEntry, "0", true, catalog.StageCrushing),
		bagging,
		element("Packing bags", catalog.CategoryConsumables, "per bag", catalog.MethodPerBag, "12", false, catalog.StageCompleteBatch),
		element("Outbound transport", catalog.CategoryTransport, "per batch", catalog.MethodActualEntry, "0", true, catalog.StageCompleteBatch),
	}
}

func loadElements(path string) ([]catalog.CostElement, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var elements []catalog.CostElement
	if err := json.Unmarshal(raw, &elements); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	for i := range elements {
		if id.IsNil(elements[i].ID) {
			elements[i].ID = elementID(elements[i].Name)
		}
	}
	return elements, nil
}

func main() {
	log, err := logger.New(logger.Config{
		Level:       "info",
		Development: true,
	})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}

	ctx := logger.WithLogger(context.Background(), log)

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(dbURL))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	if err := postgres.ApplySchema(ctx, pool); err != nil {
		log.Fatalw("failed to apply schema", "error", err)
	}
	log.Info("schema applied")

	elements := defaultElements()
	if path := os.Getenv("SEED_ELEMENTS_FILE"); path != "" {
		if elements, err = loadElements(path); err != nil {
			log.Fatalw("failed to read elements file", "path", path, "error", err)
		}
	}

	txm := postgres.NewTxManager(pool)
	repo := catalog_repo.NewCostElementRepo(txm)
	if err := txm.RunInTransaction(ctx, func(ctx context.Context) error {
		return repo.Upsert(ctx, elements)
	}); err != nil {
		log.Fatalw("failed to seed cost elements", "error", err)
	}

	log.Infow("seeding completed successfully", "elements", len(elements))
}

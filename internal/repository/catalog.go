package repository

import (
	"context"
	"fmt"

	"github.com/Draminhon/ClickPet-sub001/internal/model"
)

// CreateCatalogItem сохраняет товар или услугу партнёра.
func (r *PostgresRepository) CreateCatalogItem(ctx context.Context, item *model.CatalogItem) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO catalog_items (partner_id, kind, name, price_cents, images_count)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		item.PartnerID, string(item.Kind), item.Name, item.PriceCents, item.ImagesCount,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert catalog item: %w", err)
	}
	return id, nil
}

// GetCatalogItems возвращает позиции каталога партнёра указанного вида.
func (r *PostgresRepository) GetCatalogItems(ctx context.Context, partnerID int64, kind model.CatalogItemKind) ([]model.CatalogItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, partner_id, kind, name, price_cents, images_count, created_at
		 FROM catalog_items
		 WHERE partner_id = $1 AND kind = $2
		 ORDER BY id`,
		partnerID, string(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("select catalog items: %w", err)
	}
	defer rows.Close()

	var res []model.CatalogItem
	for rows.Next() {
		var (
			item     model.CatalogItem
			itemKind string
		)
		if err := rows.Scan(&item.ID, &item.PartnerID, &itemKind, &item.Name, &item.PriceCents, &item.ImagesCount, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan catalog item: %w", err)
		}
		item.Kind = model.CatalogItemKind(itemKind)
		res = append(res, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CountCatalogItems возвращает число товаров и услуг партнёра.
func (r *PostgresRepository) CountCatalogItems(ctx context.Context, partnerID int64) (products, services int64, err error) {
	rows, err := r.pool.Query(ctx,
		`SELECT kind, COUNT(*) FROM catalog_items WHERE partner_id = $1 GROUP BY kind`,
		partnerID,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("count catalog items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			kind  string
			count int64
		)
		if err := rows.Scan(&kind, &count); err != nil {
			return 0, 0, fmt.Errorf("scan count: %w", err)
		}
		switch model.CatalogItemKind(kind) {
		case model.CatalogItemProduct:
			products = count
		case model.CatalogItemService:
			services = count
		}
	}

	if err := rows.Err(); err != nil {
		return 0, 0, fmt.Errorf("rows error: %w", err)
	}

	return products, services, nil
}

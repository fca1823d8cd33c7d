package handlers

import "context"

// contextKey тип для ключей контекста
type contextKey string

// OwnerIDKey ключ для хранения owner_id в контексте (устанавливается AuthMiddleware)
const OwnerIDKey contextKey = "owner_id"

// WithOwnerID returns a copy of ctx carrying the authenticated owner id
func WithOwnerID(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, OwnerIDKey, ownerID)
}

// GetOwnerID извлекает owner_id из контекста запроса
func GetOwnerID(ctx context.Context) (string, bool) {
	ownerID, ok := ctx.Value(OwnerIDKey).(string)
	return ownerID, ok && ownerID != ""
}

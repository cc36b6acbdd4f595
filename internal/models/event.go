package models

// Event payload builders. Each payload is posted verbatim as the webhook body.

func ProductUpdatedPayload(productID int64, oldData, newData ProductData) map[string]any {
	return map[string]any{
		"event":      EventProductUpdated,
		"product_id": productID,
		"changes": map[string]any{
			"old_data": oldData,
			"new_data": newData,
		},
	}
}

func ProductDeletedPayload(productID int64, deleted ProductData) map[string]any {
	return map[string]any{
		"event":        EventProductDeleted,
		"product_id":   productID,
		"deleted_data": deleted,
	}
}

func BulkProductsDeletedPayload(message string) map[string]any {
	return map[string]any{
		"event":   EventBulkProductsDeleted,
		"message": message,
	}
}

func ImportCompletePayload(message string, totalRows int, filepath string) map[string]any {
	return map[string]any{
		"event":                EventCSVImportComplete,
		"message":              message,
		"total_rows_processed": totalRows,
		"filepath":             filepath,
	}
}

func ImportFailedPayload(message, filepath string) map[string]any {
	return map[string]any{
		"event":    EventCSVImportFailed,
		"message":  message,
		"filepath": filepath,
	}
}

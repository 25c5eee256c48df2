package handler

import (
	"steward/internal/approval"
	"steward/internal/audit"
	"steward/internal/catalog"
	id "steward/pkg/domain"
)

type catalogEntry struct {
	EntityType     string   `json:"entityType"`
	Domain         string   `json:"domain"`
	RequiredFields []string `json:"requiredFields"`
	TenantScoped   bool     `json:"tenantScoped"`
}

type catalogResponse struct {
	EntityTypes []catalogEntry `json:"entityTypes"`
}

type recordListResponse struct {
	Records []map[string]any `json:"records"`
}

type initializeRequest struct {
	Records []map[string]any `json:"records"`
}

type auditLogResponse struct {
	Entries []audit.Entry `json:"entries"`
}

type sessionResponse struct {
	AuditID id.AuditEntryID `json:"auditId"`
}

type domainsResponse struct {
	Domains []id.Domain `json:"domains"`
	Current id.Domain   `json:"current"`
}

type navigateRequest struct {
	Domain string `json:"domain"`
}

func toCatalogResponse(descs []catalog.Descriptor) catalogResponse {
	entries := make([]catalogEntry, 0, len(descs))
	for _, d := range descs {
		entries = append(entries, catalogEntry{
			EntityType:     d.EntityType,
			Domain:         string(d.Domain),
			RequiredFields: d.RequiredFields,
			TenantScoped:   d.TenantScoped,
		})
	}
	return catalogResponse{EntityTypes: entries}
}

func toRecordList(records []approval.Record) recordListResponse {
	docs := make([]map[string]any, 0, len(records))
	for i := range records {
		docs = append(docs, records[i].Document())
	}
	return recordListResponse{Records: docs}
}

func toAuditLog(entries []audit.Entry) auditLogResponse {
	if entries == nil {
		entries = []audit.Entry{}
	}
	return auditLogResponse{Entries: entries}
}

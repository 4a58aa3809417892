package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sudo-init-do/founderledger/internal/audit"
	"github.com/sudo-init-do/founderledger/internal/compliance"
)

func (s *Store) SaveComplianceRecord(ctx context.Context, r compliance.Record) error {
	violations, err := json.Marshal(r.WithdrawalViolations)
	if err != nil {
		return fmt.Errorf("encode violations: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
        INSERT INTO compliance_records (founder_id, last_attestation, constitution_version, fica_compliant,
            fica_status, fica_reference, withdrawal_violations, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (founder_id) DO UPDATE SET
            last_attestation = EXCLUDED.last_attestation,
            constitution_version = EXCLUDED.constitution_version,
            fica_compliant = EXCLUDED.fica_compliant,
            fica_status = EXCLUDED.fica_status,
            fica_reference = EXCLUDED.fica_reference,
            withdrawal_violations = EXCLUDED.withdrawal_violations,
            updated_at = EXCLUDED.updated_at`,
		r.FounderID, nullableTime(r.LastAttestation), r.ConstitutionVersion, r.FicaCompliant,
		r.FicaStatus, r.FicaReference, violations, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert compliance record %s: %w", r.FounderID, err)
	}
	return nil
}

// LoadComplianceRecords reads every record for compliance.Gate.Restore.
func (s *Store) LoadComplianceRecords(ctx context.Context) ([]compliance.Record, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT founder_id, last_attestation, constitution_version, fica_compliant, fica_status,
               fica_reference, withdrawal_violations, created_at, updated_at
        FROM compliance_records`)
	if err != nil {
		return nil, fmt.Errorf("query compliance records: %w", err)
	}
	defer rows.Close()

	var out []compliance.Record
	for rows.Next() {
		var r compliance.Record
		var attested *time.Time
		var violations []byte
		if err := rows.Scan(&r.FounderID, &attested, &r.ConstitutionVersion, &r.FicaCompliant, &r.FicaStatus,
			&r.FicaReference, &violations, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan compliance record: %w", err)
		}
		if attested != nil {
			r.LastAttestation = attested.UTC()
		}
		if err := json.Unmarshal(violations, &r.WithdrawalViolations); err != nil {
			return nil, fmt.Errorf("decode violations of %s: %w", r.FounderID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) AppendAudit(ctx context.Context, e audit.Entry) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO audit_log (seq, id, action, founder_id, payload, ts, prev_hash, hash)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (seq) DO NOTHING`,
		e.Seq, e.ID, e.Action, e.FounderID, string(e.Payload), e.Timestamp, e.PrevHash, e.Hash)
	if err != nil {
		return fmt.Errorf("append audit entry %d: %w", e.Seq, err)
	}
	return nil
}

// LoadAudit reads the whole chain in sequence order for audit.Log.Restore.
func (s *Store) LoadAudit(ctx context.Context) ([]audit.Entry, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT seq, id::text, action, founder_id, payload, ts, prev_hash, hash
        FROM audit_log
        ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var payload string
		if err := rows.Scan(&e.Seq, &e.ID, &e.Action, &e.FounderID, &payload, &e.Timestamp, &e.PrevHash, &e.Hash); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		e.Timestamp = e.Timestamp.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

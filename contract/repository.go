package contract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the requested contract does not exist.
	ErrNotFound = errors.New("contract: not found")
	// ErrPremiumMismatch signals the contract premium does not equal the sum
	// of its object premiums.
	ErrPremiumMismatch = errors.New("contract: premium does not match object premiums")
	// ErrStatusFinal signals an attempt to modify a confirmed contract.
	ErrStatusFinal = errors.New("contract: already confirmed")
)

// Store is the persistence port the lifecycle and the orchestrator write
// contracts through.
type Store interface {
	Save(ctx context.Context, c *Contract, subject *Subject, objects []InsuranceObject) error
	GetByID(ctx context.Context, id int64) (Contract, error)
	GetSubject(ctx context.Context, contractID int64) (Subject, error)
	GetObjects(ctx context.Context, contractID int64) ([]InsuranceObject, error)
	Confirm(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	SetNumber(ctx context.Context, id int64, number string) error
	SetExternalRef(ctx context.Context, id int64, ref string) error
}

// Repository persists contracts with pgx. Every Save runs the full
// contract+subject+objects write sequence inside one transaction so a
// mid-sequence failure never leaves a half-persisted contract.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Save creates the contract when c.ID is zero; otherwise it re-upserts the
// contract fields and replaces the subject and insurance objects
// (soft-delete then recreate). Object and subject ids are written back.
func (r *Repository) Save(ctx context.Context, c *Contract, subject *Subject, objects []InsuranceObject) error {
	var sum float64
	for _, obj := range objects {
		sum += obj.Premium
	}
	if math.Abs(sum-c.Premium) > 0.005 {
		return fmt.Errorf("%w: contract %.2f, objects %.2f", ErrPremiumMismatch, c.Premium, sum)
	}

	// An empty options bag is stored as NULL, not as "{}".
	var options []byte
	if !c.Options.Empty() {
		var err error
		options, err = json.Marshal(c.Options)
		if err != nil {
			return fmt.Errorf("contract: marshal options: %w", err)
		}
	}
	calcCoeff, err := json.Marshal(c.CalcCoeff)
	if err != nil {
		return fmt.Errorf("contract: marshal calc coeff: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if c.ID == 0 {
		err = r.insertContract(ctx, tx, c, options, calcCoeff)
	} else {
		err = r.updateContract(ctx, tx, c, options, calcCoeff)
	}
	if err != nil {
		return err
	}

	if subject != nil {
		subject.ContractID = c.ID
		if err := r.insertSubject(ctx, tx, subject); err != nil {
			return err
		}
	}

	for i := range objects {
		objects[i].ContractID = c.ID
		if err := r.insertObject(ctx, tx, &objects[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("contract: commit save: %w", err)
	}
	return nil
}

func (r *Repository) insertContract(ctx context.Context, tx pgx.Tx, c *Contract, options, calcCoeff []byte) error {
	const query = `
		INSERT INTO contracts
			(program_id, company_id, owner_id, number, integration_id, status,
			 active_from, active_to, signed_at, premium, insured_sum, options, calc_coeff)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING id, created_at, updated_at
	`
	if c.Status == "" {
		c.Status = StatusDraft
	}
	err := tx.QueryRow(ctx, query,
		c.ProgramID, c.CompanyID, c.OwnerID, c.Number, c.IntegrationID, c.Status,
		c.ActiveFrom, c.ActiveTo, c.SignedAt, c.Premium, c.InsuredSum, options, calcCoeff,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("contract: insert: %w", err)
	}
	return nil
}

func (r *Repository) updateContract(ctx context.Context, tx pgx.Tx, c *Contract, options, calcCoeff []byte) error {
	const query = `
		UPDATE contracts
		SET program_id=$1, company_id=$2, owner_id=$3, number=$4, integration_id=$5,
		    active_from=$6, active_to=$7, signed_at=$8, premium=$9, insured_sum=$10,
		    options=$11, calc_coeff=$12, updated_at=now()
		WHERE id=$13 AND status='draft'
		RETURNING status
	`
	var status Status
	err := tx.QueryRow(ctx, query,
		c.ProgramID, c.CompanyID, c.OwnerID, c.Number, c.IntegrationID,
		c.ActiveFrom, c.ActiveTo, c.SignedAt, c.Premium, c.InsuredSum,
		options, calcCoeff, c.ID,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either missing or confirmed; confirmed contracts are immutable.
			var exists bool
			if qerr := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM contracts WHERE id=$1)`, c.ID).Scan(&exists); qerr == nil && exists {
				return ErrStatusFinal
			}
			return ErrNotFound
		}
		return fmt.Errorf("contract: update: %w", err)
	}
	c.Status = status

	if _, err := tx.Exec(ctx, `UPDATE subjects SET deleted_at=now() WHERE contract_id=$1 AND deleted_at IS NULL`, c.ID); err != nil {
		return fmt.Errorf("contract: retire subject: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE insurance_objects SET deleted_at=now() WHERE contract_id=$1 AND deleted_at IS NULL`, c.ID); err != nil {
		return fmt.Errorf("contract: retire objects: %w", err)
	}
	return nil
}

func (r *Repository) insertSubject(ctx context.Context, tx pgx.Tx, s *Subject) error {
	const query = `
		INSERT INTO subjects
			(contract_id, first_name, last_name, middle_name, birth_date,
			 phone, email, doc_series, doc_number, login, external_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING id
	`
	err := tx.QueryRow(ctx, query,
		s.ContractID, s.FirstName, s.LastName, s.MiddleName, s.BirthDate,
		s.Phone, s.Email, s.DocSeries, s.DocNumber, s.Login, s.ExternalID,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("contract: insert subject: %w", err)
	}
	return nil
}

func (r *Repository) insertObject(ctx context.Context, tx pgx.Tx, o *InsuranceObject) error {
	payload, err := json.Marshal(o.Payload)
	if err != nil {
		return fmt.Errorf("contract: marshal object payload: %w", err)
	}

	const query = `
		INSERT INTO insurance_objects
			(contract_id, product, first_name, last_name, birth_date,
			 payload, number, premium, integration_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id
	`
	err = tx.QueryRow(ctx, query,
		o.ContractID, o.Product, o.FirstName, o.LastName, o.BirthDate,
		payload, o.Number, o.Premium, o.IntegrationID,
	).Scan(&o.ID)
	if err != nil {
		return fmt.Errorf("contract: insert object: %w", err)
	}
	return nil
}

// GetByID fetches a contract by its primary key.
func (r *Repository) GetByID(ctx context.Context, id int64) (Contract, error) {
	const query = `
		SELECT id, program_id, company_id, owner_id, number, integration_id, status,
		       active_from, active_to, signed_at, premium, insured_sum,
		       options, calc_coeff, created_at, updated_at
		FROM contracts
		WHERE id = $1
	`

	var (
		c         Contract
		options   []byte
		calcCoeff []byte
	)
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.ProgramID, &c.CompanyID, &c.OwnerID, &c.Number, &c.IntegrationID, &c.Status,
		&c.ActiveFrom, &c.ActiveTo, &c.SignedAt, &c.Premium, &c.InsuredSum,
		&options, &calcCoeff, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contract{}, ErrNotFound
		}
		return Contract{}, fmt.Errorf("contract: query by id: %w", err)
	}

	if len(options) > 0 {
		if err := json.Unmarshal(options, &c.Options); err != nil {
			return Contract{}, fmt.Errorf("contract: decode options: %w", err)
		}
	}
	if len(calcCoeff) > 0 {
		if err := json.Unmarshal(calcCoeff, &c.CalcCoeff); err != nil {
			return Contract{}, fmt.Errorf("contract: decode calc coeff: %w", err)
		}
	}
	return c, nil
}

// GetSubject fetches the live policyholder snapshot of a contract.
func (r *Repository) GetSubject(ctx context.Context, contractID int64) (Subject, error) {
	const query = `
		SELECT id, contract_id, first_name, last_name, middle_name, birth_date,
		       phone, email, doc_series, doc_number, login, external_id
		FROM subjects
		WHERE contract_id = $1 AND deleted_at IS NULL
		ORDER BY id DESC
		LIMIT 1
	`

	var s Subject
	err := r.pool.QueryRow(ctx, query, contractID).Scan(
		&s.ID, &s.ContractID, &s.FirstName, &s.LastName, &s.MiddleName, &s.BirthDate,
		&s.Phone, &s.Email, &s.DocSeries, &s.DocNumber, &s.Login, &s.ExternalID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Subject{}, ErrNotFound
		}
		return Subject{}, fmt.Errorf("contract: query subject: %w", err)
	}
	return s, nil
}

// GetObjects fetches the live insurance objects of a contract.
func (r *Repository) GetObjects(ctx context.Context, contractID int64) ([]InsuranceObject, error) {
	const query = `
		SELECT id, contract_id, product, first_name, last_name, birth_date,
		       payload, number, premium, integration_id
		FROM insurance_objects
		WHERE contract_id = $1 AND deleted_at IS NULL
		ORDER BY id ASC
	`

	rows, err := r.pool.Query(ctx, query, contractID)
	if err != nil {
		return nil, fmt.Errorf("contract: list objects: %w", err)
	}
	defer rows.Close()

	objects := make([]InsuranceObject, 0, 4)
	for rows.Next() {
		var (
			o       InsuranceObject
			payload []byte
		)
		if err := rows.Scan(&o.ID, &o.ContractID, &o.Product, &o.FirstName, &o.LastName, &o.BirthDate,
			&payload, &o.Number, &o.Premium, &o.IntegrationID); err != nil {
			return nil, fmt.Errorf("contract: scan object: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &o.Payload); err != nil {
				return nil, fmt.Errorf("contract: decode object payload: %w", err)
			}
		}
		objects = append(objects, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("contract: iterate objects: %w", err)
	}
	return objects, nil
}

// Confirm moves a draft contract to confirmed. Confirming an already
// confirmed contract is a no-op; the transition never runs backward.
func (r *Repository) Confirm(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE contracts SET status='confirmed', updated_at=now() WHERE id=$1 AND status='draft'`, id)
	if err != nil {
		return fmt.Errorf("contract: confirm: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var status Status
	if err := r.pool.QueryRow(ctx, `SELECT status FROM contracts WHERE id=$1`, id).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("contract: confirm status check: %w", err)
	}
	if status == StatusConfirmed {
		return nil
	}
	return fmt.Errorf("contract: confirm left status %q", status)
}

// Delete removes a contract and its children. Used as compensation when a
// carrier rejects a policy after local persistence.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("contract: begin delete: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE subjects SET deleted_at=now() WHERE contract_id=$1 AND deleted_at IS NULL`, id); err != nil {
		return fmt.Errorf("contract: delete subject: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE insurance_objects SET deleted_at=now() WHERE contract_id=$1 AND deleted_at IS NULL`, id); err != nil {
		return fmt.Errorf("contract: delete objects: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM contracts WHERE id=$1 AND status='draft'`, id)
	if err != nil {
		return fmt.Errorf("contract: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("contract: commit delete: %w", err)
	}
	return nil
}

// SetNumber records the policy number once the numbering authority assigns it.
func (r *Repository) SetNumber(ctx context.Context, id int64, number string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE contracts SET number=$1, updated_at=now() WHERE id=$2`, number, id)
	if err != nil {
		return fmt.Errorf("contract: set number: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetExternalRef records the underwriting-export contract reference in the
// options bag.
func (r *Repository) SetExternalRef(ctx context.Context, id int64, ref string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE contracts
		SET options = jsonb_set(COALESCE(options, '{}'::jsonb), '{extra,uwContractId}', to_jsonb($1::text), true),
		    updated_at = now()
		WHERE id=$2
	`, ref, id)
	if err != nil {
		return fmt.Errorf("contract: set external ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

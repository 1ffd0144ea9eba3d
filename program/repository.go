package program

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrProgramNotFound signals the requested program does not exist.
	ErrProgramNotFound = errors.New("program: not found")
	// ErrCompanyNotFound signals the carrier company is unknown.
	ErrCompanyNotFound = errors.New("program: company not found")
	// ErrOwnerNotFound signals the owner code is unknown.
	ErrOwnerNotFound = errors.New("program: owner not found")
)

// Store provides read access to program, company and owner metadata.
type Store interface {
	GetProgramByCode(ctx context.Context, code string) (Program, error)
	GetProgramByID(ctx context.Context, id int64) (Program, error)
	GetCompanyByID(ctx context.Context, id int64) (Company, error)
	GetOwnerByCode(ctx context.Context, code string) (Owner, error)
}

// Repository is the pgx-backed metadata store. Programs are read-only input
// to drivers; all writes happen through the admin surface, not here.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetProgramByCode fetches a program and its conditions/tariff by code.
func (r *Repository) GetProgramByCode(ctx context.Context, code string) (Program, error) {
	const query = `
		SELECT id, code, name, company_id, conditions, matrix
		FROM programs
		WHERE code = $1
	`
	return r.scanProgram(r.pool.QueryRow(ctx, query, code))
}

// GetProgramByID fetches a program by its primary key.
func (r *Repository) GetProgramByID(ctx context.Context, id int64) (Program, error) {
	const query = `
		SELECT id, code, name, company_id, conditions, matrix
		FROM programs
		WHERE id = $1
	`
	return r.scanProgram(r.pool.QueryRow(ctx, query, id))
}

func (r *Repository) scanProgram(row pgx.Row) (Program, error) {
	var (
		prog       Program
		conditions []byte
		matrix     []byte
	)
	err := row.Scan(&prog.ID, &prog.Code, &prog.Name, &prog.CompanyID, &conditions, &matrix)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Program{}, ErrProgramNotFound
		}
		return Program{}, fmt.Errorf("program: query program: %w", err)
	}

	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &prog.Conditions); err != nil {
			return Program{}, fmt.Errorf("program: decode conditions: %w", err)
		}
	}
	if len(matrix) > 0 {
		if err := json.Unmarshal(matrix, &prog.Matrix); err != nil {
			return Program{}, fmt.Errorf("program: decode matrix: %w", err)
		}
	}
	return prog, nil
}

// GetCompanyByID fetches the carrier company a program belongs to.
func (r *Repository) GetCompanyByID(ctx context.Context, id int64) (Company, error) {
	const query = `
		SELECT id, code, name
		FROM companies
		WHERE id = $1
	`

	var company Company
	err := r.pool.QueryRow(ctx, query, id).Scan(&company.ID, &company.Code, &company.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Company{}, ErrCompanyNotFound
		}
		return Company{}, fmt.Errorf("program: query company: %w", err)
	}
	return company, nil
}

// GetOwnerByCode fetches the selling organization by its code.
func (r *Repository) GetOwnerByCode(ctx context.Context, code string) (Owner, error) {
	const query = `
		SELECT id, code, name
		FROM owners
		WHERE code = $1
	`

	var owner Owner
	err := r.pool.QueryRow(ctx, query, code).Scan(&owner.ID, &owner.Code, &owner.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Owner{}, ErrOwnerNotFound
		}
		return Owner{}, fmt.Errorf("program: query owner: %w", err)
	}
	return owner, nil
}

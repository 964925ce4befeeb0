package repository

import (
	"context"

	"github.com/gearlog/ticket-service/internal/domain"
)

// EmployeeRepository reads employees for assignment checks.
type EmployeeRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Employee, error)
}

type employeeRepository struct {
	db DBTX
}

// NewEmployeeRepository instantiates the repository.
func NewEmployeeRepository(db DBTX) EmployeeRepository {
	return &employeeRepository{db: db}
}

func (r *employeeRepository) GetByID(ctx context.Context, id string) (*domain.Employee, error) {
	const query = `
        SELECT id, company_id, department_id, name, email, created_at, updated_at
        FROM employees WHERE id=$1`

	var employee domain.Employee
	if err := r.db.QueryRow(ctx, query, id).Scan(
		&employee.ID,
		&employee.CompanyID,
		&employee.DepartmentID,
		&employee.Name,
		&employee.Email,
		&employee.CreatedAt,
		&employee.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &employee, nil
}

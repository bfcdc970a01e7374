package fixtures

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type Role struct {
	ID   uint `gorm:"primaryKey"`
	Name string
}

type Account struct {
	ID    uint `gorm:"primaryKey"`
	Name  string
	Roles []*Role `gorm:"many2many:account_role"`
}

type Country struct {
	ID     uint   `gorm:"primaryKey"`
	Code   string `gorm:"uniqueIndex"`
	Status string `gorm:"default:active"`
}

type Person struct {
	ID        uint `gorm:"primaryKey"`
	FirstName string
	Nickname  string `gorm:"-"`
	AccountID *uint
	Account   *Account
	CountryID *uint
	Country   *Country
}

type Grant struct {
	AccountID uint   `gorm:"primaryKey;autoIncrement:false"`
	RoleID    uint   `gorm:"primaryKey;autoIncrement:false"`
	Scope     string `gorm:"default:read"`
	Level     int
}

var testModels = []any{&Role{}, &Account{}, &Country{}, &Person{}, &Grant{}}

var (
	roleFix = MustDefine("RoleFix", &Role{}, Fields{
		"Name": "admin",
	})
	accountFix = MustDefine("AccountFix", &Account{}, Fields{
		"Name":  "franz",
		"Roles": Refs{SubGet(roleFix)},
	})
	countryFix = MustDefine("CountryFix", &Country{}, Fields{
		"Code": "DE",
	})
	personFix = MustDefine("PersonFix", &Person{}, Fields{
		"first_name": "Franz",
		"Account":    SubModel(accountFix),
		"Country":    SubCreate(countryFix, Overrides{"Code": "AT"}),
	})
	grantFix = MustDefine("GrantFix", &Grant{}, Fields{
		"AccountID": 1,
		"RoleID":    2,
		"Level":     3,
	})
)

// mockSession records session calls. Unexpected calls panic.
type mockSession struct {
	mock.Mock
}

func (m *mockSession) Add(instance any) error {
	return m.Called(instance).Error(0)
}

func (m *mockSession) Merge(ctx context.Context, instance any) (any, error) {
	args := m.Called(ctx, instance)
	if fn, ok := args.Get(0).(func(context.Context, any) any); ok {
		return fn(ctx, instance), args.Error(1)
	}
	return args.Get(0), args.Error(1)
}

func (m *mockSession) Expunge(instance any) error {
	return m.Called(instance).Error(0)
}

func (m *mockSession) Flush(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockSession) Find(ctx context.Context, model any, pk ...any) (any, error) {
	args := m.Called(append([]any{ctx, model}, pk...)...)
	return args.Get(0), args.Error(1)
}

package fixtures

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlieparkes/gorm-fixtures/internal/env"
)

type GormSuite struct {
	suite.Suite
	ctx      context.Context
	fixtures *Fixtures
	db       *gorm.DB
	session  *GormSession
	registry *Registry
}

func TestGormSuite(t *testing.T) {
	suite.Run(t, new(GormSuite))
}

func (s *GormSuite) SetupTest() {
	s.ctx = context.Background()
	s.fixtures = NewFixtures(FixturesLogger(zap.NewNop()))
	s.Require().NoError(s.fixtures.Add(s.ctx, NewDatabase(
		DatabaseDriver(env.DriverSqlite),
		DatabaseModels(testModels...),
		DatabaseLogger(zap.NewNop()),
	)))
	database := s.fixtures.Database()
	s.db = database.DB()
	s.session = database.Session()
	registry, err := NewRegistry(s.session, RegistryLogger(zap.NewNop()))
	s.Require().NoError(err)
	s.registry = registry
}

func (s *GormSuite) TearDownTest() {
	s.NoError(s.fixtures.TearDown(s.ctx))
}

func (s *GormSuite) count(model any) int64 {
	var n int64
	s.Require().NoError(s.db.Model(model).Count(&n).Error)
	return n
}

func (s *GormSuite) TestGetReturnsSameRow() {
	first, err := As[Role](roleFix.Get(s.ctx, s.registry))
	s.Require().NoError(err)
	second, err := As[Role](roleFix.Get(s.ctx, s.registry))
	s.Require().NoError(err)

	s.NotZero(first.ID)
	s.Equal(first.ID, second.ID)
	s.Equal(int64(1), s.count(&Role{}))
	s.Equal(1, s.registry.Len())
}

func (s *GormSuite) TestGetDistinctOverrides() {
	admin, err := As[Role](roleFix.Get(s.ctx, s.registry))
	s.Require().NoError(err)
	guest, err := As[Role](roleFix.Get(s.ctx, s.registry, Overrides{"Name": "guest"}))
	s.Require().NoError(err)
	explicit, err := As[Role](roleFix.Get(s.ctx, s.registry, Overrides{"Name": "admin"}))
	s.Require().NoError(err)

	s.NotEqual(admin.ID, guest.ID)
	s.Equal("guest", guest.Name)
	s.NotEqual(admin.ID, explicit.ID)
	s.Equal(int64(3), s.count(&Role{}))
}

func (s *GormSuite) TestGetRestoresRegisteredState() {
	role, err := As[Role](roleFix.Get(s.ctx, s.registry))
	s.Require().NoError(err)
	s.Require().NoError(s.db.Model(&Role{}).Where("id = ?", role.ID).Update("name", "changed").Error)

	again, err := As[Role](roleFix.Get(s.ctx, s.registry))
	s.Require().NoError(err)
	s.Equal(role.ID, again.ID)
	s.Equal("admin", again.Name)

	var stored Role
	s.Require().NoError(s.db.First(&stored, role.ID).Error)
	s.Equal("admin", stored.Name)
}

func (s *GormSuite) TestModelDoesNotPersist() {
	account, err := As[Account](accountFix.Model(s.ctx, s.registry))
	s.Require().NoError(err)

	s.Zero(account.ID)
	s.Equal("franz", account.Name)
	s.Require().Len(account.Roles, 1)
	s.NotZero(account.Roles[0].ID)
	s.Equal("admin", account.Roles[0].Name)
	s.False(s.session.Attached(account))

	s.Equal(int64(0), s.count(&Account{}))
	s.Equal(int64(1), s.count(&Role{}))
}

func (s *GormSuite) TestCreatePersistsReferences() {
	person, err := As[Person](personFix.Create(s.ctx, s.registry))
	s.Require().NoError(err)

	s.NotZero(person.ID)
	s.Equal("Franz", person.FirstName)
	s.Require().NotNil(person.Country)
	s.Equal("AT", person.Country.Code)
	s.Equal("active", person.Country.Status)
	s.Require().NotNil(person.Account)
	s.NotZero(person.Account.ID)
	s.Equal("franz", person.Account.Name)

	var links int64
	s.Require().NoError(s.db.Table("account_role").Count(&links).Error)
	s.Equal(int64(1), links)
	s.Equal(int64(1), s.count(&Person{}))
	s.Equal(1, s.registry.Len(), "only the role is registered")
}

func (s *GormSuite) TestCreateReloadsDatabaseDefaults() {
	country, err := As[Country](countryFix.Create(s.ctx, s.registry))
	s.Require().NoError(err)
	s.NotZero(country.ID)
	s.Equal("DE", country.Code)
	s.Equal("active", country.Status)

	var stored Country
	s.Require().NoError(s.db.First(&stored, country.ID).Error)
	s.Equal(*country, stored)
}

func (s *GormSuite) TestCreateCompositeKey() {
	grant, err := As[Grant](grantFix.Create(s.ctx, s.registry))
	s.Require().NoError(err)
	s.Equal(uint(1), grant.AccountID)
	s.Equal(uint(2), grant.RoleID)
	s.Equal("read", grant.Scope)
	s.Equal(3, grant.Level)

	found, err := s.session.Find(s.ctx, &Grant{}, uint(1), uint(2))
	s.Require().NoError(err)
	s.Same(grant, found)
}

func (s *GormSuite) TestCreateIsNotRegistered() {
	created, err := As[Role](roleFix.Create(s.ctx, s.registry))
	s.Require().NoError(err)
	s.Zero(s.registry.Len())

	registered, err := As[Role](roleFix.Get(s.ctx, s.registry))
	s.Require().NoError(err)
	s.NotEqual(created.ID, registered.ID)
}

func (s *GormSuite) TestCreateSharesRegisteredReferences() {
	for i := 0; i < 2; i++ {
		_, err := accountFix.Create(s.ctx, s.registry)
		s.Require().NoError(err)
	}
	var links int64
	s.Require().NoError(s.db.Table("account_role").Count(&links).Error)
	s.Equal(int64(2), links)
	s.Equal(int64(2), s.count(&Account{}))
	s.Equal(int64(1), s.count(&Role{}))
}

func (s *GormSuite) TestCreateMixedStrategies() {
	account, err := As[Account](accountFix.Create(s.ctx, s.registry, Overrides{
		"Roles": Refs{SubGet(roleFix), SubCreate(roleFix, Overrides{"Name": "temp"}), SubModel(roleFix, Overrides{"Name": "draft"})},
	}))
	s.Require().NoError(err)
	s.Require().Len(account.Roles, 3)
	names := []string{}
	for _, r := range account.Roles {
		names = append(names, r.Name)
	}
	s.ElementsMatch([]string{"admin", "temp", "draft"}, names)
	s.Equal(int64(3), s.count(&Role{}))
}

func (s *GormSuite) TestStorageErrorsPassThrough() {
	_, err := countryFix.Create(s.ctx, s.registry)
	s.Require().NoError(err)
	_, err = countryFix.Create(s.ctx, s.registry)
	s.Error(err)
	s.NotErrorIs(err, ErrConfiguration)
}

func (s *GormSuite) TestSessionExpunge() {
	role := &Role{Name: "x"}
	s.ErrorIs(s.session.Expunge(role), ErrNotAttached)

	s.Require().NoError(s.session.Add(role))
	s.True(s.session.Attached(role))
	s.NoError(s.session.Expunge(role))
	s.False(s.session.Attached(role))
	s.NoError(s.session.Flush(s.ctx))
	s.Equal(int64(0), s.count(&Role{}))
}

func (s *GormSuite) TestSessionMerge() {
	role := &Role{Name: "x"}
	merged, err := s.session.Merge(s.ctx, role)
	s.Require().NoError(err)
	s.NotSame(role, merged)
	s.False(s.session.Attached(role))
	s.True(s.session.Attached(merged))
	s.Require().NoError(s.session.Flush(s.ctx))
	s.NotZero(merged.(*Role).ID)

	copied := &Role{ID: merged.(*Role).ID, Name: "y"}
	again, err := s.session.Merge(s.ctx, copied)
	s.Require().NoError(err)
	s.Same(merged, again)
	s.Require().NoError(s.session.Flush(s.ctx))

	var stored Role
	s.Require().NoError(s.db.First(&stored, copied.ID).Error)
	s.Equal("y", stored.Name)
}

func (s *GormSuite) TestSessionFind() {
	_, err := s.session.Find(s.ctx, &Grant{}, 1)
	s.Error(err)

	_, err = s.session.Find(s.ctx, &Role{}, 99)
	s.ErrorIs(err, gorm.ErrRecordNotFound)

	_, err = s.session.Find(s.ctx, Role{}, 1)
	s.Error(err)
}

func (s *GormSuite) TestDatabaseRegistry() {
	r, err := s.fixtures.Database().Registry()
	s.Require().NoError(err)
	_, err = roleFix.Get(s.ctx, r)
	s.NoError(err)

	_, err = NewDatabase().Registry()
	s.ErrorIs(err, ErrPrecondition)
}

func (s *GormSuite) TestGetSeparatesSameNamedDefinitions() {
	admin := MustDefine("", &Role{}, Fields{"Name": "admin"})
	guest := MustDefine("", &Role{}, Fields{"Name": "guest"})

	a, err := As[Role](admin.Get(s.ctx, s.registry))
	s.Require().NoError(err)
	g, err := As[Role](guest.Get(s.ctx, s.registry))
	s.Require().NoError(err)
	s.NotEqual(a.ID, g.ID)
	s.Equal("guest", g.Name)

	role := MustDefine("Fix", &Role{}, Fields{"Name": "fix"})
	country := MustDefine("Fix", &Country{}, Fields{"Code": "FX"})
	_, err = role.Get(s.ctx, s.registry)
	s.Require().NoError(err)
	c, err := As[Country](country.Get(s.ctx, s.registry))
	s.Require().NoError(err)
	s.Equal("FX", c.Code)
	s.Equal(4, s.registry.Len())
}

func (s *GormSuite) TestMergeRejectsStructValues() {
	_, err := s.registry.Merge(s.ctx, Account{Name: "x"}, accountFix, Overrides{})
	s.Error(err)
	s.NotErrorIs(err, ErrNotAttached)
	s.Zero(s.registry.Len())

	s.Error(s.session.Expunge(Account{}))
	s.False(s.session.Attached(Account{}))
}

func (s *GormSuite) TestSessionFlushKeepsFailedInstancePending() {
	s.Require().NoError(s.session.Add(&Country{Code: "XX"}))
	s.Require().NoError(s.session.Flush(s.ctx))

	dup := &Country{Code: "XX"}
	role := &Role{Name: "after"}
	s.Require().NoError(s.session.Add(dup))
	s.Require().NoError(s.session.Add(role))
	s.Error(s.session.Flush(s.ctx))
	s.Error(s.session.Flush(s.ctx))
	s.Equal(int64(0), s.count(&Role{}))

	s.Require().NoError(s.session.Expunge(dup))
	s.Require().NoError(s.session.Flush(s.ctx))
	s.Equal(int64(1), s.count(&Role{}))
}

package duplicatepair

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/fern/pkg/models"
)

func TestListQuery_SearchMatchesNameAndEmail(t *testing.T) {
	query, args := listQuery(models.PairFilter{
		Status:     models.PairStatusPending,
		SearchTerm: "sarah.j@email.com",
	})

	for _, col := range []string{"lp.name", "ld.name", "lp.email", "ld.email"} {
		assert.Contains(t, query, col+" ILIKE", "search must cover %s", col)
	}
	assert.Contains(t, query, "dp.status =", "status filter intersects with search")
	assert.Contains(t, args, "%sarah.j@email.com%")
}

func TestListQuery_NoSearchSkipsLeadJoin(t *testing.T) {
	query, _ := listQuery(models.PairFilter{RiskLevel: models.RiskHigh})

	assert.NotContains(t, query, "JOIN")
	assert.Contains(t, query, "dp.risk_level =")
	assert.Contains(t, query, "LIMIT")
}

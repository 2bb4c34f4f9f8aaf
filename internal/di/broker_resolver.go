package di

import (
	"github.com/aristath/tradepilot/internal/brokers"
)

// singleBrokerResolver resolves every account key to the one broker client
// this deployment is configured with. pipeline.BrokerResolver,
// trademanager.BrokerResolver, and reconciliation.BrokerResolver each declare
// the identical Resolve(accountKey string) (brokers.Client, bool) shape
// independently to avoid an import cycle between those packages; this type
// satisfies all three without any of them importing di.
type singleBrokerResolver struct {
	accountKey string
	client     brokers.Client
}

// newSingleBrokerResolver builds a resolver for one broker account. accountKey
// is the key pipelines must set in their broker_account_key config to match;
// an empty job/pipeline accountKey also resolves here, since most pipelines
// in a single-account deployment never set one explicitly.
func newSingleBrokerResolver(accountKey string, client brokers.Client) *singleBrokerResolver {
	return &singleBrokerResolver{accountKey: accountKey, client: client}
}

func (r *singleBrokerResolver) Resolve(accountKey string) (brokers.Client, bool) {
	if accountKey != "" && accountKey != r.accountKey {
		return nil, false
	}
	return r.client, true
}

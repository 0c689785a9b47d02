package warehouse

// Destination tables written by the platform syncs

var GoogleAdsPerformance = Table{
	Name:           "google_ads_performance",
	PartitionField: "date",
	AccountField:   "customer_id",
	Columns: []Column{
		{"sync_timestamp", Timestamp},
		{"date", Date},
		{"customer_id", String},
		{"customer_name", String},
		{"campaign_id", String},
		{"campaign_name", String},
		{"campaign_status", String},
		{"ad_group_id", String},
		{"ad_group_name", String},
		{"impressions", Integer},
		{"clicks", Integer},
		{"cost", Float},
		{"conversions", Float},
		{"conversions_value", Float},
		{"ctr", Float},
		{"cpc", Float},
		{"cpm", Float},
		{"cpa", Float},
		{"roas", Float},
	},
}

var MetaAdsPerformance = Table{
	Name:           "meta_ads_performance",
	PartitionField: "date",
	AccountField:   "account_id",
	Columns: []Column{
		{"sync_timestamp", Timestamp},
		{"date", Date},
		{"account_id", String},
		{"account_name", String},
		{"campaign_id", String},
		{"campaign_name", String},
		{"adset_id", String},
		{"adset_name", String},
		{"ad_id", String},
		{"ad_name", String},
		{"impressions", Integer},
		{"clicks", Integer},
		{"spend", Float},
		{"conversions", Float},
		{"purchases", Integer},
		{"purchase_value", Float},
		{"ctr", Float},
		{"cpc", Float},
		{"cpm", Float},
		{"roas", Float},
	},
}

var TikTokAdsPerformance = Table{
	Name:           "tiktok_ads_performance",
	PartitionField: "date",
	AccountField:   "advertiser_id",
	Columns: []Column{
		{"sync_timestamp", Timestamp},
		{"date", Date},
		{"advertiser_id", String},
		{"advertiser_name", String},
		{"campaign_id", String},
		{"campaign_name", String},
		{"adgroup_id", String},
		{"adgroup_name", String},
		{"ad_id", String},
		{"ad_name", String},
		{"impressions", Integer},
		{"clicks", Integer},
		{"spend", Float},
		{"conversions", Integer},
		{"conversion_value", Float},
		{"video_views", Integer},
		{"video_views_25", Integer},
		{"video_views_50", Integer},
		{"video_views_75", Integer},
		{"video_views_100", Integer},
		{"ctr", Float},
		{"cpc", Float},
		{"cpm", Float},
		{"cpa", Float},
	},
}

// GA4Performance holds GA4 Data API reports
var GA4Performance = Table{
	Name:           "ga4_performance",
	PartitionField: "date",
	AccountField:   "property_id",
	Columns: []Column{
		{"sync_timestamp", Timestamp},
		{"date", Date},
		{"property_id", String},
		{"property_name", String},
		{"source", String},
		{"medium", String},
		{"campaign", String},
		{"sessions", Integer},
		{"users", Integer},
		{"pageviews", Integer},
		{"total_events", Integer},
		{"purchases", Integer},
		{"revenue", Float},
		{"conversion_rate", Float},
		{"pages_per_session", Float},
		{"form_submissions", Integer},
		{"clicks", Integer},
	},
}

// GA4UnifiedPerformance is rebuilt from the native GA4 export datasets
var GA4UnifiedPerformance = Table{
	Name:           "ga4_unified_performance",
	PartitionField: "date",
	AccountField:   "client_id",
	Columns: []Column{
		{"sync_timestamp", Timestamp},
		{"date", Date},
		{"client_id", String},
		{"client_name", String},
		{"ga4_property_id", String},
		{"source", String},
		{"medium", String},
		{"campaign", String},
		{"users", Integer},
		{"sessions", Integer},
		{"pageviews", Integer},
		{"conversions", Integer},
		{"revenue", Float},
		{"add_to_carts", Integer},
		{"checkouts", Integer},
	},
}

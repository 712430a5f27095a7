// Package catalog declares the two tables of the feed store.
package catalog

import "github.com/calvinalkan/feedstate/pkg/jsonstate"

// Table names.
const (
	TableFeeds   = "feeds"
	TableEntries = "entries"
)

// ID is the primary key column of both tables.
const ID = "_id"

// Feed columns.
const (
	FeedURL                = "url"
	FeedName               = "name"
	FeedLastUpdate         = "lastupdate"
	FeedIcon               = "icon"
	FeedError              = "error"
	FeedPriority           = "priority"
	FeedFetchMode          = "fetchmode"
	FeedRealLastUpdate     = "reallastupdate"
	FeedAlertRingtone      = "alertringtone"
	FeedOtherAlertRingtone = "other_alertringtone"
	FeedSkipAlert          = "skipalert"
	FeedWifiOnly           = "wifionly"
	FeedHomepage           = "homepage"
	FeedImgPattern         = "imgpattern"
)

// Entry columns.
const (
	EntryFeedID     = "feedid"
	EntryTitle      = "title"
	EntryAbstract   = "abstract"
	EntryDate       = "date"
	EntryReadDate   = "readdate"
	EntryLink       = "link"
	EntryFavorite   = "favorite"
	EntryEnclosure  = "enclosure"
	EntryGUID       = "guid"
	EntryAuthor     = "author"
	EntryLinkImgURL = "linkimgurl"
)

// Feeds returns the feeds table.
func Feeds() *jsonstate.Schema {
	return jsonstate.NewSchema(TableFeeds).
		PrimaryKey(ID).
		TextUnique(FeedURL).
		Text(FeedName).
		DateTime(FeedLastUpdate).
		Blob(FeedIcon).
		Text(FeedError).
		Int(FeedPriority).
		Int(FeedFetchMode).
		DateTime(FeedRealLastUpdate).
		Text(FeedAlertRingtone).
		Int(FeedOtherAlertRingtone).
		Int(FeedSkipAlert).
		Bool(FeedWifiOnly).
		Text(FeedHomepage).
		Text(FeedImgPattern)
}

// Entries returns the entries table.
func Entries() *jsonstate.Schema {
	return jsonstate.NewSchema(TableEntries).
		PrimaryKey(ID).
		SmallInt(EntryFeedID).
		Text(EntryTitle).
		Text(EntryAbstract).
		DateTime(EntryDate).
		DateTime(EntryReadDate).
		Text(EntryLink).
		Bool(EntryFavorite).
		Text(EntryEnclosure).
		Text(EntryGUID).
		Text(EntryAuthor).
		Text(EntryLinkImgURL)
}

// Tables returns the schema set in backup order: feeds before entries.
func Tables() []jsonstate.Descriptor {
	return []jsonstate.Descriptor{Feeds(), Entries()}
}

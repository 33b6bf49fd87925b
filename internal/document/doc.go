// Package document turns raw card records into field-level fragments.
//
// A record is a JSON object with a top-level "card_name" and a list of
// sections. Each section carries a heading, a subheading and any number of
// recognised fields whose values are a string or a list of strings:
//
//	{
//	  "card_name": "K-Pass",
//	  "sections": [
//	    {"heading": "Fees", "subheading": "Annual", "fee": ["Domestic 10,000 won"]}
//	  ]
//	}
//
// Every non-trivial field becomes one Fragment. Unknown field names are
// ignored.
package document

package mapper

// PartDetailSpec maps a part as reported inside an event detail.
var PartDetailSpec = Spec{
	{From: "name", To: "name"},
	{From: "amount", To: "amount"},
	{From: "amount_type", To: "amountType.name"},
	{From: "start_time", To: "dateTimeFrom"},
	{From: "end_time", To: "dateTimeTo"},
	{From: "event_from_date", To: "eventFromDate"},
}

// EventDetailSpec maps the internal event view onto the booking system's
// event detail document. Lift with Reverse(EventDetailSpec) to read one.
var EventDetailSpec = Spec{
	{From: "id", To: "event.id"},
	{From: "event_type", To: "event.name"},
	{From: "start_date", To: "event.fromDate"},
	{From: "end_date", To: "event.toDate"},
	{From: "participants", To: "event.participantAmount"},
	{From: "location", To: "event.eventAddress.displayAddress"},
	{From: "additional_requirements", To: "event.extraRequirements"},
	{From: "event_contents", To: "event.requests", Items: Spec{
		{From: "id", To: "id", OmitMissing: true},
		{From: "content", To: "name"},
		{From: "offers", To: "requestOffers", Items: Spec{
			{From: "request_id", To: "request.id"},
			{From: "status", To: "status.name", OmitMissing: true},
			{From: "parts", To: "offerParts", Items: PartDetailSpec, OmitMissing: true},
		}},
	}},
}

// EventCreateSpec maps an internal event creation request onto the
// booking system's create payload.
var EventCreateSpec = Spec{
	{From: "template_id", To: "templateId"},
	{From: "start_ms", To: "fromDate"},
	{From: "end_ms", To: "toDate"},
	{From: "event_type", To: "name"},
	{From: "participants", To: "participantAmount"},
	{From: "country", To: "eventAddress.country"},
	{From: "location", To: "eventAddress.displayAddress"},
	{From: "additional_requirements", To: "extraRequirements"},
	{From: "email", To: "email"},
	{From: "escape_accommodation", To: "escapeAccommodation"},
	{From: "event_coach", To: "eventCoach"},
	{From: "other_dates", To: "interestedInOtherDates"},
	{From: "julbord", To: "isJulbordEvent"},
	{From: "onboarding", To: "isOnboardingEvent"},
	{From: "add_accommodation_parts", To: "addAccommodationPartsNotPresentInTemplate"},
}

// PartSpec maps an internal part request onto the add-part payload.
// Timing keys are only sent for parts that have them.
var PartSpec = Spec{
	{From: "name", To: "name"},
	{From: "timeless", To: "timeless"},
	{From: "amount_type", To: "amountType.name"},
	{From: "amount", To: "amount"},
	{From: "comment", To: "commentByCreator"},
	{From: "start_ms", To: "dateTimeFrom", OmitMissing: true},
	{From: "end_ms", To: "dateTimeTo", OmitMissing: true},
	{From: "event_from_date", To: "eventFromDate", OmitMissing: true},
}
